package dispatch

import (
	"encoding/base64"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
	"github.com/mark3labs/mcp-go/mcp"

	"parley/internal/wire"
)

// renderAnswer turns a human answer into tool result contents. Image
// attachments go inline so the model can see them; everything is also
// written to attachDir and referenced by path, since some clients drop
// non-text content.
func renderAnswer(ans *wire.Answer, attachDir string) ([]mcp.Content, error) {
	var contents []mcp.Content
	var text strings.Builder

	if len(ans.Choices) > 0 {
		fmt.Fprintf(&text, "User selected: %s\n", strings.Join(ans.Choices, ", "))
	}
	if ans.Text != "" {
		text.WriteString(ans.Text)
		text.WriteString("\n")
	}

	for i, att := range ans.Attachments {
		if strings.HasPrefix(att.MediaType, "image/") {
			contents = append(contents, mcp.NewImageContent(att.DataBase64, att.MediaType))
		}
		path, err := saveAttachment(att, attachDir)
		if err != nil {
			return nil, fmt.Errorf("saving attachment %d: %w", i, err)
		}
		fmt.Fprintf(&text, "[attachment %d: %s saved to %s]\n", i+1, att.MediaType, path)
	}

	if text.Len() == 0 {
		text.WriteString("User acknowledged without comment.")
	}
	contents = append(contents, mcp.NewTextContent(strings.TrimRight(text.String(), "\n")))
	return contents, nil
}

func saveAttachment(att wire.Attachment, dir string) (string, error) {
	data, err := base64.StdEncoding.DecodeString(att.DataBase64)
	if err != nil {
		return "", fmt.Errorf("decoding base64: %w", err)
	}
	if err := os.MkdirAll(dir, 0700); err != nil {
		return "", fmt.Errorf("creating %s: %w", dir, err)
	}

	name := filepath.Base(att.Filename)
	if name == "" || name == "." || name == string(filepath.Separator) {
		name = uuid.NewString() + extensionFor(att.MediaType)
	} else {
		// Prefix with a fresh id so repeated answers never clobber each other.
		name = uuid.NewString()[:8] + "-" + name
	}

	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, data, 0600); err != nil {
		return "", fmt.Errorf("writing %s: %w", path, err)
	}
	return path, nil
}

func extensionFor(mediaType string) string {
	switch mediaType {
	case "image/png":
		return ".png"
	case "image/jpeg":
		return ".jpg"
	case "image/gif":
		return ".gif"
	case "image/webp":
		return ".webp"
	case "text/plain":
		return ".txt"
	case "application/pdf":
		return ".pdf"
	default:
		return ".bin"
	}
}
