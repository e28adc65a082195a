package engine

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"

	"github.com/epm-hub/pad-engine/internal/cache"
	"github.com/epm-hub/pad-engine/internal/metadata"
	"github.com/epm-hub/pad-engine/internal/repository"
)

var (
	// ErrUnknownAsset 表示元数据中没有该类型的资源。
	ErrUnknownAsset = errors.New("unknown asset")
	// ErrUnknownContent 表示元数据未声明任何内容文件。
	ErrUnknownContent = errors.New("unknown content")
)

// ReadMetadata 排队读取归档元数据，与解压任务共用同一执行队列。
func (e *Engine) ReadMetadata(ctx context.Context, archivePath string) *Future[*metadata.Metadata] {
	return submit(e, ctx, KindMetadata, filepath.Base(archivePath), func(ctx context.Context) (*metadata.Metadata, bool, error) {
		meta, err := metadata.Read(ctx, e.reader, archivePath)
		return meta, false, err
	})
}

// Describe 排队计算归档的 build 指纹并组装 PackageInfo；指纹需要读取整个归档，
// 因此与其他归档 I/O 走同一队列。
func (e *Engine) Describe(ctx context.Context, repo Repository, filename, uid string) *Future[repository.PackageInfo] {
	return submit(e, ctx, KindDescribe, filename, func(context.Context) (repository.PackageInfo, bool, error) {
		info, err := repo.Describe(filename, uid)
		return info, false, err
	})
}

// Asset 排队解压单个资源：按图片类型解析出条目，已缓存则直接返回路径，
// 否则只解压该条目到缓存目录。
func (e *Engine) Asset(ctx context.Context, repo Repository, info repository.PackageInfo, meta *metadata.Metadata, assetName string) *Future[string] {
	return submit(e, ctx, KindAsset, info.CacheKey(), func(ctx context.Context) (string, bool, error) {
		return e.extractAsset(ctx, repo, info, meta, assetName)
	})
}

// Content 排队解压全部内容：缓存不完整时整体重新解压，返回所有声明文件的绝对路径。
func (e *Engine) Content(ctx context.Context, repo Repository, info repository.PackageInfo, meta *metadata.Metadata) *Future[[]string] {
	return submit(e, ctx, KindContent, info.CacheKey(), func(ctx context.Context) ([]string, bool, error) {
		return e.extractContent(ctx, repo, info, meta)
	})
}

func (e *Engine) extractAsset(ctx context.Context, repo Repository, info repository.PackageInfo, meta *metadata.Metadata, assetName string) (string, bool, error) {
	img, ok := meta.Image(assetName)
	if !ok {
		return "", false, fmt.Errorf("%w: %s", ErrUnknownAsset, assetName)
	}

	dir, err := repo.CacheDir(info)
	if err != nil {
		return "", false, err
	}
	full, err := cache.EntryPath(dir, img.Src)
	if err != nil {
		return "", false, err
	}

	unlock := e.locks.Lock(dir)
	defer unlock()

	if cache.IsAssetCached(dir, img.Src) {
		return full, true, nil
	}

	if err := cache.EnsureDir(dir); err != nil {
		return "", false, err
	}
	archivePath, err := repo.Resolve(info.Filename)
	if err != nil {
		return "", false, err
	}
	if _, err := e.reader.ExtractEntry(ctx, archivePath, img.Src, dir); err != nil {
		return "", false, fmt.Errorf("extract asset %s: %w", assetName, err)
	}
	e.metrics.IncExtraction("entry")
	return full, false, nil
}

func (e *Engine) extractContent(ctx context.Context, repo Repository, info repository.PackageInfo, meta *metadata.Metadata) ([]string, bool, error) {
	files := meta.Files()
	if len(files) == 0 {
		return nil, false, ErrUnknownContent
	}

	dir, err := repo.CacheDir(info)
	if err != nil {
		return nil, false, err
	}
	paths := make([]string, len(files))
	for i, name := range files {
		if paths[i], err = cache.EntryPath(dir, name); err != nil {
			return nil, false, err
		}
	}

	unlock := e.locks.Lock(dir)
	defer unlock()

	if cache.IsContentComplete(dir, files) {
		return paths, true, nil
	}

	if err := cache.EnsureDir(dir); err != nil {
		return nil, false, err
	}
	archivePath, err := repo.Resolve(info.Filename)
	if err != nil {
		return nil, false, err
	}
	if err := e.reader.ExtractAll(ctx, archivePath, dir); err != nil {
		return nil, false, fmt.Errorf("extract content: %w", err)
	}
	e.metrics.IncExtraction("full")
	return paths, false, nil
}
