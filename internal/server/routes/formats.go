package routes

import (
	"sort"
	"strings"

	"github.com/gofiber/fiber/v3"

	"github.com/epm-hub/pad-engine/internal/archive"
	"github.com/epm-hub/pad-engine/internal/version"
)

// RegisterFormatRoutes 暴露 /-/formats 诊断接口，列出已注册的归档格式及其是否具备解压后端。
func RegisterFormatRoutes(app *fiber.App) {
	if app == nil {
		return
	}

	app.Get("/-/formats", func(c fiber.Ctx) error {
		return c.JSON(fiber.Map{
			"engine":     version.EngineType,
			"version":    version.Version,
			"formats":    encodeFormats(archive.List()),
			"extensions": archive.Extensions(),
		})
	})

	app.Get("/-/formats/:key", func(c fiber.Ctx) error {
		key := strings.ToLower(strings.TrimSpace(c.Params("key")))
		if key == "" {
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "format_key_required"})
		}
		format, ok := archive.Resolve(key)
		if !ok {
			return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"error": "format_not_found"})
		}
		return c.JSON(encodeFormat(format))
	})
}

type formatPayload struct {
	Key         string   `json:"key"`
	Description string   `json:"description"`
	Extensions  []string `json:"extensions"`
	Supported   bool     `json:"supported"`
}

func encodeFormats(formats []archive.Format) []formatPayload {
	if len(formats) == 0 {
		return nil
	}
	sort.Slice(formats, func(i, j int) bool {
		return formats[i].Key < formats[j].Key
	})
	result := make([]formatPayload, 0, len(formats))
	for _, format := range formats {
		result = append(result, encodeFormat(format))
	}
	return result
}

func encodeFormat(format archive.Format) formatPayload {
	return formatPayload{
		Key:         format.Key,
		Description: format.Description,
		Extensions:  append([]string(nil), format.Extensions...),
		Supported:   format.Supported(),
	}
}
