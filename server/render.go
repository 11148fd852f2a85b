package server

import (
	"bytes"
	"fmt"
	"html"
	"strings"

	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/extension"

	"brick_model_generator/model"
)

var md = goldmark.New(goldmark.WithExtensions(extension.Table))

// RenderInstructions turns a model into a printable HTML instruction sheet.
func RenderInstructions(set *model.LegoSet) ([]byte, error) {
	var body bytes.Buffer
	if err := md.Convert([]byte(instructionsMarkdown(set)), &body); err != nil {
		return nil, err
	}
	title := set.Title
	if title == "" {
		title = "Untitled Model"
	}
	var page bytes.Buffer
	page.WriteString("<!DOCTYPE html>\n<html><head><meta charset=\"utf-8\"><title>")
	page.WriteString(html.EscapeString(title))
	page.WriteString("</title></head><body>\n")
	page.Write(body.Bytes())
	page.WriteString("</body></html>\n")
	return page.Bytes(), nil
}

func instructionsMarkdown(set *model.LegoSet) string {
	var sb strings.Builder
	title := set.Title
	if title == "" {
		title = "Untitled Model"
	}
	sb.WriteString(fmt.Sprintf("# %s\n\n", escapeInline(title)))
	if d := strings.TrimSpace(set.Description); d != "" {
		sb.WriteString(escapeInline(d) + "\n\n")
	}
	sb.WriteString(fmt.Sprintf("Total parts: %d · Unique parts: %d\n\n", set.TotalQuantity(), set.PartsCount))
	if v := set.Validation; v != nil {
		if v.Error != "" {
			sb.WriteString(fmt.Sprintf("Catalog check unavailable (%s)\n\n", escapeInline(v.Error)))
		} else {
			sb.WriteString(fmt.Sprintf("%d / %d part types verified\n\n", v.VerifiedCount, v.TotalCount))
		}
	}

	if len(set.Parts) > 0 {
		sb.WriteString("## Parts\n\n")
		sb.WriteString("| Part | Name | Color | Qty |\n|---|---|---|---:|\n")
		for _, p := range set.Parts {
			sb.WriteString(fmt.Sprintf("| %s | %s | %s | %d |\n",
				escapeCell(p.PartNum), escapeCell(p.PartName), escapeCell(p.ColorName), p.Quantity))
		}
		sb.WriteString("\n")
	}

	if len(set.BuildSteps) > 0 {
		sb.WriteString("## Build steps\n\n")
		for _, st := range set.BuildSteps {
			sb.WriteString(fmt.Sprintf("### Step %d\n\n%s\n\n", st.Step, escapeInline(st.Instructions)))
			if p := strings.TrimSpace(st.ImagePrompt); p != "" {
				sb.WriteString(fmt.Sprintf("> Image prompt: %s\n\n", escapeInline(p)))
			}
		}
	}
	return sb.String()
}

var inlineEscaper = strings.NewReplacer(
	`\`, `\\`, "*", `\*`, "_", `\_`, "`", "\\`", "#", `\#`, "[", `\[`, "]", `\]`, "<", `\<`, ">", `\>`,
)

// escapeInline keeps model-provided text from being read as markdown.
func escapeInline(s string) string {
	s = strings.ReplaceAll(s, "\r\n", "\n")
	return inlineEscaper.Replace(strings.ReplaceAll(strings.TrimSpace(s), "\n", " "))
}

func escapeCell(s string) string {
	return strings.ReplaceAll(escapeInline(s), "|", `\|`)
}
