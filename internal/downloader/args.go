package downloader

import (
	"strconv"
	"strings"

	"downloadcenter/internal/model"
)

// Phrases printed by the downloader tool.
const (
	phraseImageSaved = "Загружена картинка"
	phraseSaveBegin  = "Начинаю сохранение книги"
	phraseSaved      = "успешно сохранена"
)

// Messages reported to the user.
const (
	msgStarted    = "Download started"
	msgSaving     = "Saving files"
	msgProcessing = "Processing files"
	msgArchiving  = "Archiving files"
	msgUploading  = "Uploading files"
	msgCancelled  = "Download cancelled"
	msgError      = "An error occurred"
)

const (
	timeoutWithProxy = "120"
	timeoutDirect    = "60"
)

// buildArgs returns the downloader command line for req saving into dir.
func buildArgs(req model.Request, dir string) []string {
	args := []string{"--save", dir}
	if req.URL != "" {
		args = append(args, "--url", req.URL)
	}
	args = append(args, "--format", formatOf(req)+",json_lite")
	if req.Start != 0 {
		args = append(args, "--start", strconv.Itoa(req.Start))
	}
	if req.End != 0 {
		args = append(args, "--end", strconv.Itoa(req.End))
	}
	if req.Proxy != "" {
		args = append(args, "--proxy", req.Proxy, "--timeout", timeoutWithProxy)
	} else {
		args = append(args, "--timeout", timeoutDirect)
	}
	if req.Cover {
		args = append(args, "--cover")
	}
	if !req.Images {
		args = append(args, "--no-image")
	}
	if req.Login != "" && req.Password != "" && plainCredential(req.Login) && plainCredential(req.Password) {
		args = append(args, "--login", req.Login, "--password", req.Password)
	}
	return args
}

// plainCredential rejects values that look like paths or URLs.
func plainCredential(v string) bool {
	for _, prefix := range []string{"/", "http:/", "https:/"} {
		if strings.HasPrefix(v, prefix) {
			return false
		}
	}
	return true
}

func formatOf(req model.Request) string {
	if req.Format == "" {
		return model.DefaultFormat
	}
	return strings.ToLower(req.Format)
}

// translateLine maps one line of downloader output to a user message.
// Empty means the line is not reported.
func translateLine(line string) string {
	line = strings.TrimSpace(strings.ToValidUTF8(line, "�"))
	switch {
	case line == "":
		return ""
	case strings.HasPrefix(line, phraseImageSaved):
		return ""
	case strings.HasPrefix(line, phraseSaveBegin), strings.Contains(line, phraseSaved):
		return msgSaving
	default:
		return line
	}
}

// escapeErr prepares text for a fenced code block.
func escapeErr(text string) string {
	text = strings.ReplaceAll(text, `\`, `\\`)
	return strings.ReplaceAll(text, "`", "\\`")
}
