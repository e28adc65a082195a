package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"net/url"
	"os"
	"path/filepath"
	"strings"

	"github.com/gofiber/fiber/v3"
	"github.com/sirupsen/logrus"

	"github.com/epm-hub/pad-engine/internal/archive"
	"github.com/epm-hub/pad-engine/internal/cache"
	"github.com/epm-hub/pad-engine/internal/engine"
	"github.com/epm-hub/pad-engine/internal/metadata"
	"github.com/epm-hub/pad-engine/internal/query"
	"github.com/epm-hub/pad-engine/internal/repository"
)

type packageHandler struct {
	repo   *repository.Repository
	engine *engine.Engine
	logger *logrus.Logger
}

type packageSummary struct {
	File  string `json:"file"`
	UID   string `json:"uid,omitempty"`
	Title string `json:"title,omitempty"`
}

type metadataPayload struct {
	File     string             `json:"file"`
	UID      string             `json:"uid"`
	ShortUID string             `json:"short_uid"`
	Build    string             `json:"build"`
	Tags     []string           `json:"tags"`
	Metadata *metadata.Metadata `json:"metadata"`
}

type contentFile struct {
	Name string `json:"name"`
	Path string `json:"path"`
}

// loadedPackage 是一次请求内解析出的包上下文。
type loadedPackage struct {
	file string
	path string
	meta *metadata.Metadata
}

func registerPackageRoutes(app *fiber.App, h *packageHandler) {
	app.Get("/packages", h.list)

	group := app.Group("/packages/:file")
	group.Get("/metadata", h.metadata)
	group.Get("/tags", h.tags)
	group.Get("/match", h.matchQuery)
	group.Post("/match", h.matchChain)
	group.Get("/assets/:asset", h.asset)
	group.Get("/content", h.content)
}

// list 返回仓库内的归档；携带 where 参数时逐个读取元数据并只返回匹配项。
func (h *packageHandler) list(c fiber.Ctx) error {
	names, err := h.repo.List()
	if err != nil {
		return h.fail(c, err)
	}

	where := strings.TrimSpace(c.Query("where"))
	if where == "" {
		result := make([]packageSummary, 0, len(names))
		for _, name := range names {
			result = append(result, packageSummary{File: name})
		}
		return c.JSON(fiber.Map{"packages": result})
	}

	chain, err := query.Parse(where)
	if err != nil {
		return h.fail(c, err)
	}

	ctx := c.Context()
	futures := make([]*engine.Future[*metadata.Metadata], len(names))
	for i, name := range names {
		path, err := h.repo.Resolve(name)
		if err != nil {
			return h.fail(c, err)
		}
		futures[i] = h.engine.ReadMetadata(ctx, path)
	}

	result := make([]packageSummary, 0)
	for i, future := range futures {
		meta, err := future.Wait(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return h.fail(c, err)
			}
			// 单个损坏的包不影响整体列表。
			h.logger.WithFields(logrus.Fields{
				"action":     "list_filter",
				"package":    names[i],
				"request_id": RequestID(c),
			}).WithError(err).Warn("skip unreadable package")
			continue
		}
		if !query.IsMatch(meta, chain) {
			continue
		}
		summary := packageSummary{File: names[i], UID: meta.UID}
		if meta.Content != nil {
			summary.Title = meta.Content.Title
		}
		result = append(result, summary)
	}
	return c.JSON(fiber.Map{"packages": result, "where": chain.String()})
}

func (h *packageHandler) metadata(c fiber.Ctx) error {
	pkg, err := h.load(c)
	if err != nil {
		return h.fail(c, err)
	}
	info, err := h.describe(c, pkg)
	if err != nil {
		return h.fail(c, err)
	}
	return c.JSON(metadataPayload{
		File:     pkg.file,
		UID:      pkg.meta.UID,
		ShortUID: metadata.CutUID(pkg.meta.UID),
		Build:    info.Build,
		Tags:     metadata.Tags(pkg.meta),
		Metadata: pkg.meta,
	})
}

func (h *packageHandler) tags(c fiber.Ctx) error {
	pkg, err := h.load(c)
	if err != nil {
		return h.fail(c, err)
	}
	return c.JSON(fiber.Map{"file": pkg.file, "tags": metadata.Tags(pkg.meta)})
}

// matchQuery 使用扁平查询串 ?where=key op value [and|or ...] 求值。
func (h *packageHandler) matchQuery(c fiber.Ctx) error {
	where := strings.TrimSpace(c.Query("where"))
	if where == "" {
		return h.fail(c, fmt.Errorf("%w: where parameter is required", query.ErrInvalidQuery))
	}
	chain, err := query.Parse(where)
	if err != nil {
		return h.fail(c, err)
	}
	return h.match(c, chain)
}

// matchChain 接收 JSON 形式的 WhereChain。
func (h *packageHandler) matchChain(c fiber.Ctx) error {
	var chain query.WhereChain
	if err := json.Unmarshal(c.Body(), &chain); err != nil {
		return h.fail(c, fmt.Errorf("%w: %w", query.ErrInvalidQuery, err))
	}
	if err := chain.Validate(); err != nil {
		return h.fail(c, fmt.Errorf("%w: %w", query.ErrInvalidQuery, err))
	}
	return h.match(c, &chain)
}

func (h *packageHandler) match(c fiber.Ctx, chain *query.WhereChain) error {
	pkg, err := h.load(c)
	if err != nil {
		return h.fail(c, err)
	}
	return c.JSON(fiber.Map{
		"file":  pkg.file,
		"where": chain.String(),
		"match": query.IsMatch(pkg.meta, chain),
	})
}

func (h *packageHandler) asset(c fiber.Ctx) error {
	pkg, err := h.load(c)
	if err != nil {
		return h.fail(c, err)
	}
	assetName, err := pathParam(c, "asset")
	if err != nil {
		return h.fail(c, err)
	}
	info, err := h.describe(c, pkg)
	if err != nil {
		return h.fail(c, err)
	}

	ctx := c.Context()
	path, err := h.engine.Asset(ctx, h.repo, info, pkg.meta, assetName).Wait(ctx)
	if err != nil {
		return h.fail(c, err)
	}
	c.Set("X-Cache-Key", info.CacheKey())
	return c.SendFile(path)
}

func (h *packageHandler) content(c fiber.Ctx) error {
	pkg, err := h.load(c)
	if err != nil {
		return h.fail(c, err)
	}
	info, err := h.describe(c, pkg)
	if err != nil {
		return h.fail(c, err)
	}

	ctx := c.Context()
	paths, err := h.engine.Content(ctx, h.repo, info, pkg.meta).Wait(ctx)
	if err != nil {
		return h.fail(c, err)
	}

	names := pkg.meta.Files()
	files := make([]contentFile, len(paths))
	for i, path := range paths {
		files[i] = contentFile{Name: names[i], Path: path}
	}
	return c.JSON(fiber.Map{
		"file":      pkg.file,
		"cache_key": info.CacheKey(),
		"files":     files,
	})
}

// load 解析 :file 参数，确认归档存在并经由引擎读取元数据。
func (h *packageHandler) load(c fiber.Ctx) (*loadedPackage, error) {
	file, err := pathParam(c, "file")
	if err != nil {
		return nil, err
	}
	c.Locals(contextKeyPackage, file)

	path, err := h.repo.Resolve(file)
	if err != nil {
		return nil, err
	}
	if _, err := os.Stat(path); err != nil {
		return nil, err
	}

	ctx := c.Context()
	meta, err := h.engine.ReadMetadata(ctx, path).Wait(ctx)
	if err != nil {
		return nil, err
	}
	return &loadedPackage{file: file, path: path, meta: meta}, nil
}

// describe 经由引擎队列计算 build 指纹，得到缓存所需的 PackageInfo。
func (h *packageHandler) describe(c fiber.Ctx, pkg *loadedPackage) (repository.PackageInfo, error) {
	ctx := c.Context()
	return h.engine.Describe(ctx, h.repo, pkg.file, pkg.meta.UID).Wait(ctx)
}

// pathParam 返回解码后的路由参数；Fiber 按原始路径匹配，"My%20Package.zip" 需要还原。
func pathParam(c fiber.Ctx, name string) (string, error) {
	raw := c.Params(name)
	value, err := url.PathUnescape(raw)
	if err != nil {
		return "", fmt.Errorf("%w: %q", repository.ErrInvalidPath, raw)
	}
	return value, nil
}

func (h *packageHandler) fail(c fiber.Ctx, err error) error {
	status, code := statusForError(err)
	fields := logrus.Fields{
		"action":     "http_error",
		"request_id": RequestID(c),
		"package":    packageFromContext(c),
		"status":     status,
		"error_code": code,
	}
	payload := fiber.Map{"error": code}
	if status >= fiber.StatusInternalServerError {
		h.logger.WithFields(fields).WithError(err).Error("request failed")
	} else {
		h.logger.WithFields(fields).WithError(err).Debug("request rejected")
		payload["message"] = h.publicMessage(c, err, code)
	}
	return c.Status(status).JSON(payload)
}

// publicMessage 返回可以交给客户端的错误描述，去掉服务器上的绝对路径。
func (h *packageHandler) publicMessage(c fiber.Ctx, err error, code string) string {
	if code == "package_not_found" {
		return fmt.Sprintf("package %q not found", packageFromContext(c))
	}
	msg := err.Error()
	for _, root := range []string{h.repo.PackagesPath(), h.repo.Layout().Root()} {
		msg = strings.ReplaceAll(msg, root+string(filepath.Separator), "")
		msg = strings.ReplaceAll(msg, root, ".")
	}
	return msg
}

// statusForError 将领域错误映射为 HTTP 状态码与稳定的错误码。
func statusForError(err error) (int, string) {
	switch {
	case errors.Is(err, repository.ErrInvalidPath):
		return fiber.StatusBadRequest, "invalid_path"
	case errors.Is(err, query.ErrInvalidQuery), errors.Is(err, query.ErrAmbiguousLink):
		return fiber.StatusBadRequest, "invalid_query"
	case errors.Is(err, engine.ErrUnknownAsset):
		return fiber.StatusNotFound, "asset_not_found"
	case errors.Is(err, engine.ErrUnknownContent):
		return fiber.StatusNotFound, "content_not_declared"
	case errors.Is(err, metadata.ErrMetadataMissing):
		return fiber.StatusUnprocessableEntity, "metadata_missing"
	case errors.Is(err, metadata.ErrMetadataParse):
		return fiber.StatusUnprocessableEntity, "metadata_invalid"
	case errors.Is(err, archive.ErrEntryNotFound):
		return fiber.StatusUnprocessableEntity, "entry_not_found"
	case errors.Is(err, cache.ErrInvalidPath):
		return fiber.StatusUnprocessableEntity, "invalid_entry_path"
	case errors.Is(err, fs.ErrNotExist):
		return fiber.StatusNotFound, "package_not_found"
	case errors.Is(err, archive.ErrArchiveOpen):
		return fiber.StatusUnprocessableEntity, "archive_unreadable"
	case errors.Is(err, cache.ErrCacheDirectory):
		return fiber.StatusInternalServerError, "cache_unavailable"
	case errors.Is(err, engine.ErrClosed), errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return fiber.StatusServiceUnavailable, "engine_unavailable"
	default:
		return fiber.StatusInternalServerError, "internal_error"
	}
}
