package extract

import (
	"encoding/xml"
	"errors"
	"fmt"
	"io"
	"strings"
)

// documentText walks WordprocessingML and returns the body paragraphs followed
// by one line per table row, all separated by blank lines.
func documentText(raw string) (string, error) {
	dec := xml.NewDecoder(strings.NewReader(raw))

	var (
		paragraphs []string
		rows       []string
		para       strings.Builder
		cell       []string
		cells      []string
		inText     bool
		runDepth   int
		tableDepth int
	)

	for {
		tok, err := dec.Token()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return "", fmt.Errorf("parse %s: %w", docxBody, err)
		}

		switch t := tok.(type) {
		case xml.StartElement:
			switch t.Name.Local {
			case "tbl":
				tableDepth++
			case "tr":
				if tableDepth == 1 {
					cells = cells[:0]
				}
			case "tc":
				if tableDepth == 1 {
					cell = cell[:0]
				}
			case "p":
				para.Reset()
			case "r":
				runDepth++
			case "t":
				inText = true
			// w:tab also defines tab stops under w:pPr/w:tabs; only run content counts.
			case "tab":
				if runDepth > 0 {
					para.WriteByte('\t')
				}
			case "br", "cr":
				if runDepth > 0 {
					para.WriteByte('\n')
				}
			}
		case xml.CharData:
			if inText {
				para.Write(t)
			}
		case xml.EndElement:
			switch t.Name.Local {
			case "r":
				runDepth--
			case "t":
				inText = false
			case "p":
				text := para.String()
				if tableDepth == 0 {
					if strings.TrimSpace(text) != "" {
						paragraphs = append(paragraphs, text)
					}
				} else {
					cell = append(cell, text)
				}
			case "tc":
				if tableDepth == 1 {
					if c := strings.TrimSpace(strings.Join(cell, "\n")); c != "" {
						cells = append(cells, c)
					}
				}
			case "tr":
				if tableDepth == 1 && len(cells) > 0 {
					rows = append(rows, strings.Join(cells, " | "))
				}
			case "tbl":
				tableDepth--
			}
		}
	}

	return strings.Join(append(paragraphs, rows...), "\n\n"), nil
}
