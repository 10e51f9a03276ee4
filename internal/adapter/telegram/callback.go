package telegram

import (
	"fmt"
	"strings"

	"github.com/fairyhunter13/filetools-bot/internal/config"
	"github.com/fairyhunter13/filetools-bot/internal/domain"
)

const callbackSep = "|"

// GenerateCallbackData packs a callback type and task reference into
// inline-button data. ParseCallbackData is its inverse.
func GenerateCallbackData(callbackType, task string) string {
	return callbackType + callbackSep + task
}

// ParseCallbackData unpacks data produced by GenerateCallbackData.
func ParseCallbackData(data string) (callbackType, task string, err error) {
	parts := strings.SplitN(data, callbackSep, 2)
	if len(parts) != 2 || parts[0] == "" {
		return "", "", fmt.Errorf("%w: malformed callback data %q", domain.ErrInvalidArgument, data)
	}
	return parts[0], parts[1], nil
}

// FollowUpKeyboard builds the inline action rows offered under a
// delivered document. Tools that cannot chain on a single output
// (merge needs several inputs) are filtered by the catalog.
func FollowUpKeyboard(catalog *config.ToolCatalog, produced domain.Tool, jobID string) [][]domain.InlineButton {
	tools := catalog.FollowUps(produced)
	if len(tools) == 0 {
		return nil
	}
	const perRow = 2
	rows := make([][]domain.InlineButton, 0, (len(tools)+perRow-1)/perRow)
	row := make([]domain.InlineButton, 0, perRow)
	for _, t := range tools {
		row = append(row, domain.InlineButton{
			Text: buttonLabel(t),
			Data: GenerateCallbackData(string(t), jobID),
		})
		if len(row) == perRow {
			rows = append(rows, row)
			row = make([]domain.InlineButton, 0, perRow)
		}
	}
	if len(row) > 0 {
		rows = append(rows, row)
	}
	return rows
}

func buttonLabel(t domain.Tool) string {
	switch t {
	case domain.ToolUpscaleImage:
		return "Upscale"
	case domain.ToolRemoveBackgroundImage:
		return "Remove background"
	case domain.ToolImagePDF:
		return "To PDF"
	case domain.ToolCompress:
		return "Compress"
	case domain.ToolMerge:
		return "Merge"
	}
	return string(t)
}
