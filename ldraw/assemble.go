// Package ldraw serializes a generated model into an LDraw (.ldr) document.
package ldraw

import (
	"crypto/sha256"
	"encoding/hex"
	"hash"
	"math"
	"strconv"
	"strings"
	"unicode/utf16"

	"k8s.io/klog/v2"

	"brick_model_generator/model"
)

const (
	lineSep = "\r\n"

	invalidDocument  = "0 ERROR: Invalid data or no placed parts received by LDR assembler."
	untitledModel    = "Untitled Model"
	defaultFilename  = "bricki_ai_model"
	identityMatrix   = "1 0 0 0 1 0 0 0 1"
	author           = "BrickiAI"
	hashFailSentinel = "sha256-calculation-failed"
)

// Status tags whether Assemble produced the full document.
type Status string

const (
	StatusOK       Status = "ok"
	StatusDegraded Status = "degraded"
)

// Result is an assembled document and its fingerprint.
type Result struct {
	Content string `json:"content"`
	SHA256  string `json:"sha256"`
	Status  Status `json:"status"`
}

// Assembler builds documents. The zero value hashes with SHA-256.
type Assembler struct {
	NewHash func() hash.Hash
}

// Assemble uses the default Assembler.
func Assemble(set *model.LegoSet) Result {
	return Assembler{}.Assemble(set)
}

// Assemble never fails: a set without placed parts yields a one-line error comment and
// an empty fingerprint.
func (a Assembler) Assemble(set *model.LegoSet) Result {
	if set == nil || len(set.PlacedParts) == 0 {
		klog.Errorf("[ldraw] invalid set or empty placed_parts")
		return Result{Content: invalidDocument, Status: StatusDegraded}
	}

	title := set.Title
	if title == "" {
		title = untitledModel
	}
	header := []string{
		"0 " + title,
		"0 Name: " + Filename(set.Title),
		"0 Author: " + author,
		"0 Unofficial Model",
		"0",
		"0 Total Parts: " + strconv.Itoa(set.TotalQuantity()),
		"0 Unique Parts: " + strconv.Itoa(set.PartsCount),
		"0",
	}

	body := make([]string, 0, len(set.PlacedParts))
	for _, p := range set.PlacedParts {
		body = append(body, placedLine(p))
	}

	var sb strings.Builder
	sb.WriteString(strings.Join(header, lineSep))
	sb.WriteString(lineSep)
	sb.WriteString(strings.Join(body, lineSep))
	sb.WriteString(lineSep)
	sb.WriteString("0")
	content := sb.String()

	sum, ok := a.fingerprint(content)
	res := Result{Content: content, SHA256: sum, Status: StatusOK}
	if !ok {
		res.Status = StatusDegraded
	}
	return res
}

// 1 <colour> <x> <y> <z> <a b c d e f g h i> <file>
func placedLine(p model.PlacedPart) string {
	matrix := identityMatrix
	if len(p.Matrix) == 9 {
		nums := make([]string, 9)
		for i, v := range p.Matrix {
			nums[i] = FormatNumber(v)
		}
		matrix = strings.Join(nums, " ")
	}
	return strings.Join([]string{
		"1",
		strconv.Itoa(p.ColorID),
		FormatNumber(p.Position.X),
		FormatNumber(p.Position.Y),
		FormatNumber(p.Position.Z),
		matrix,
		p.PartFile,
	}, " ")
}

func (a Assembler) fingerprint(content string) (string, bool) {
	newHash := a.NewHash
	if newHash == nil {
		newHash = sha256.New
	}
	h := newHash()
	if _, err := h.Write([]byte(content)); err != nil {
		klog.Errorf("[ldraw] sha256 calculation failed: %v", err)
		return hashFailSentinel, false
	}
	return hex.EncodeToString(h.Sum(nil)), true
}

// FormatNumber prints the shortest decimal that round-trips, the way JavaScript's
// Number#toString does: integers without a decimal point, exponent form outside [1e-6, 1e21).
func FormatNumber(v float64) string {
	if v == 0 {
		return "0"
	}
	abs := math.Abs(v)
	if abs >= 1e21 || abs < 1e-6 {
		s := strconv.FormatFloat(v, 'e', -1, 64)
		// Go pads the exponent to two digits ("1e-07").
		mant, exp, _ := strings.Cut(s, "e")
		sign := exp[:1]
		exp = strings.TrimLeft(exp[1:], "0")
		return mant + "e" + sign + exp
	}
	return strconv.FormatFloat(v, 'f', -1, 64)
}

// SafeFilename maps every UTF-16 code unit outside [A-Za-z0-9] to '_' and lower-cases the
// result, so a character beyond the BMP (an emoji) becomes "__".
func SafeFilename(title string) string {
	var sb strings.Builder
	for _, r := range title {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9':
			sb.WriteRune(r)
		case r >= 'A' && r <= 'Z':
			sb.WriteRune(r + ('a' - 'A'))
		default:
			sb.WriteString(strings.Repeat("_", utf16.RuneLen(r)))
		}
	}
	if sb.Len() == 0 {
		return defaultFilename
	}
	return sb.String()
}

// Filename is the download name for a model title.
func Filename(title string) string {
	return SafeFilename(title) + ".ldr"
}
