package downloader

import (
	"encoding/json"
	"fmt"
	"html"
	"strings"

	md "github.com/JohannesKaufmann/html-to-markdown"
	"github.com/rs/zerolog/log"
)

type person struct {
	Name string `json:"Name"`
	URL  string `json:"Url"`
}

type series struct {
	Name   string `json:"Name"`
	Number any    `json:"Number"`
	URL    string `json:"Url"`
}

type chapter struct {
	Title   string `json:"Title"`
	IsValid bool   `json:"IsValid"`
}

// bookMeta is the json_lite file written next to the book.
type bookMeta struct {
	Title     string    `json:"Title"`
	URL       string    `json:"Url"`
	Author    *person   `json:"Author"`
	CoAuthors []person  `json:"CoAuthors"`
	Seria     *series   `json:"Seria"`
	Chapters  []chapter `json:"Chapters"`
}

// renderCaption turns book metadata into a Markdown caption and reports the
// total number of chapters. Unparsable metadata yields an empty caption.
func renderCaption(raw []byte, ranged bool) (string, int) {
	var meta bookMeta
	if err := json.Unmarshal(raw, &meta); err != nil {
		log.Debug().Err(err).Msg("book metadata not parsable")
		return "", 0
	}

	var b strings.Builder
	title := html.EscapeString(meta.Title)
	switch {
	case title != "" && meta.URL != "":
		fmt.Fprintf(&b, `<a href="%s">%s</a><br>`, html.EscapeString(meta.URL), title)
	case title != "":
		b.WriteString(title + "<br>")
	}

	var authors []string
	if meta.Author != nil && meta.Author.Name != "" {
		authors = append(authors, personHTML(*meta.Author))
	}
	for _, co := range meta.CoAuthors {
		if co.Name != "" {
			authors = append(authors, personHTML(co))
		}
	}
	switch len(authors) {
	case 0:
	case 1:
		b.WriteString("Author: " + authors[0] + "<br>")
	default:
		b.WriteString("Authors: " + strings.Join(authors, ", ") + "<br>")
	}

	if meta.Seria != nil && meta.Seria.Name != "" {
		name := html.EscapeString(meta.Seria.Name)
		if meta.Seria.Number != nil {
			name += " #" + html.EscapeString(fmt.Sprint(meta.Seria.Number))
		}
		if meta.Seria.URL != "" {
			fmt.Fprintf(&b, `Series: <a href="%s">%s</a><br>`, html.EscapeString(meta.Seria.URL), name)
		} else {
			b.WriteString("Series: " + name + "<br>")
		}
	}

	summary, total := chapterSummary(meta.Chapters, ranged)
	if summary != "" {
		b.WriteString("<br>" + summary)
	}

	converter := md.NewConverter("", true, nil)
	caption, err := converter.ConvertString(b.String())
	if err != nil {
		log.Debug().Err(err).Msg("caption conversion failed")
		return "", total
	}
	return caption, total
}

func personHTML(p person) string {
	name := html.EscapeString(p.Name)
	if p.URL == "" {
		return name
	}
	return fmt.Sprintf(`<a href="%s">%s</a>`, html.EscapeString(p.URL), name)
}

func chapterSummary(chapters []chapter, ranged bool) (string, int) {
	total, valid := 0, 0
	first, last := "", ""
	for _, ch := range chapters {
		if ch.Title == "" {
			continue
		}
		total++
		if !ch.IsValid {
			continue
		}
		valid++
		if first == "" {
			first = ch.Title
		}
		last = ch.Title
	}
	if total == 0 {
		return "", 0
	}
	first, last = html.EscapeString(first), html.EscapeString(last)
	switch {
	case first == "" || last == "":
		return fmt.Sprintf("Chapters %d of %d", valid, total), total
	case ranged:
		return fmt.Sprintf("Chapters %d of %d, from \"%s\" to \"%s\"", valid, total, first, last), total
	default:
		return fmt.Sprintf("Chapters %d of %d, up to \"%s\"", valid, total, last), total
	}
}
