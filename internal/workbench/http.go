package workbench

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"mime/multipart"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/yourusername/combine-pdf/internal/export"
	"github.com/yourusername/combine-pdf/internal/pdf"
	"github.com/yourusername/combine-pdf/internal/storage"
)

// Uploader はアップロードされたPDFを検証して保存します。
type Uploader interface {
	StoreUpload(ctx context.Context, file *multipart.FileHeader, dir string) (*pdf.StoredFile, error)
}

// JobScheduler は大きな結合を非同期キューへ回します。
type JobScheduler interface {
	ScheduleCompose(ctx context.Context, owner string, sources []pdf.ComposeSource, pages []pdf.JobPage, preset pdf.OptimizePreset) (string, error)
}

// HandlerOptions はハンドラーの設定です。
type HandlerOptions struct {
	Scheduler           JobScheduler
	AsyncThresholdBytes int64
	AsyncThresholdPages int

	ThumbnailWidth    int
	MaxThumbnailWidth int

	// Capability は保存経路です。CapabilityFileWrite のときだけ Writer を使います。
	Capability export.Capability
	Writer     storage.Writer

	// SessionID はリクエストからワークベンチのセッションIDを取り出します。
	SessionID func(c *gin.Context) string
	Logger    *log.Logger
}

// Handlers は /api/workbench 配下のハンドラーです。
type Handlers struct {
	hub      *Hub
	uploader Uploader
	opts     HandlerOptions
}

// NewHandlers は Handlers を作成します。
func NewHandlers(hub *Hub, uploader Uploader, opts HandlerOptions) *Handlers {
	if opts.Logger == nil {
		opts.Logger = log.Default()
	}
	if opts.ThumbnailWidth <= 0 {
		opts.ThumbnailWidth = 240
	}
	if opts.MaxThumbnailWidth < opts.ThumbnailWidth {
		opts.MaxThumbnailWidth = opts.ThumbnailWidth
	}
	return &Handlers{hub: hub, uploader: uploader, opts: opts}
}

// Register は rg にワークベンチのルートを登録します。
func (h *Handlers) Register(rg *gin.RouterGroup) {
	wb := rg.Group("/workbench")
	wb.GET("", h.Snapshot)
	wb.DELETE("", h.Reset)
	wb.POST("/documents", h.Upload)
	wb.POST("/documents/:id/pages", h.AddDocumentPages)
	wb.DELETE("/pages/:index", h.RemovePage)
	wb.POST("/pages/move", h.MovePage)
	wb.POST("/pages/reorder", h.Reorder)
	wb.GET("/pages/:index/thumbnail", h.Thumbnail)
	wb.POST("/merge", h.Merge)
	wb.GET("/output", h.Output)
	wb.POST("/output/save", h.Save)
}

func (h *Handlers) workbench(c *gin.Context) (*Workbench, bool) {
	var id string
	if h.opts.SessionID != nil {
		id = h.opts.SessionID(c)
	}
	w, err := h.hub.Get(id)
	if err != nil {
		if errors.Is(err, ErrInvalidSession) {
			c.JSON(http.StatusUnauthorized, gin.H{
				"code":    "UNAUTHORIZED",
				"message": "セッションが無効です。再ログインしてください",
			})
			return nil, false
		}
		respondWithError(c, err)
		return nil, false
	}
	return w, true
}

// respondMutation は更新系エンドポイントの応答です。最新の状態は常に workbench に入れます。
func (h *Handlers) respondMutation(c *gin.Context, w *Workbench, extra gin.H) {
	snap, err := w.Snapshot()
	if err != nil {
		respondWithError(c, err)
		return
	}
	if extra == nil {
		extra = gin.H{}
	}
	extra["workbench"] = snap
	c.JSON(http.StatusOK, extra)
}

// Snapshot は GET /api/workbench のハンドラーです。
func (h *Handlers) Snapshot(c *gin.Context) {
	w, ok := h.workbench(c)
	if !ok {
		return
	}
	snap, err := w.Snapshot()
	if err != nil {
		respondWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, snap)
}

// Upload は POST /api/workbench/documents のハンドラーです。
// 検証に失敗したファイルは results に理由を入れ、他のファイルは追加します。
func (h *Handlers) Upload(c *gin.Context) {
	w, ok := h.workbench(c)
	if !ok {
		return
	}

	form, err := c.MultipartForm()
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"code":    "INVALID_INPUT",
			"message": "multipart/form-data でPDFファイルを送信してください。",
		})
		return
	}
	defer form.RemoveAll()

	files := form.File["files[]"]
	if len(files) == 0 {
		files = form.File["files"]
	}
	if len(files) == 0 {
		c.JSON(http.StatusBadRequest, gin.H{
			"code":    "INVALID_INPUT",
			"message": "アップロードされたPDFファイルが見つかりません。",
		})
		return
	}

	ctx := c.Request.Context()
	results := make([]gin.H, len(files))
	var (
		sources []SourceFile
		slots   []int
	)
	for i, fh := range files {
		stored, err := h.uploader.StoreUpload(ctx, fh, w.UploadDir())
		if err != nil {
			if errors.Is(err, context.Canceled) {
				respondWithError(c, err)
				return
			}
			results[i] = fileError(pdf.DisplayName(fh.Filename), err)
			continue
		}
		sources = append(sources, SourceFile{Name: stored.OriginalName, Path: stored.Path, Size: stored.Size})
		slots = append(slots, i)
	}

	added, err := w.AddFiles(ctx, sources)
	if err != nil {
		respondWithError(c, err)
		return
	}
	for j, res := range added {
		if res.Err != nil {
			results[slots[j]] = fileError(res.Name, res.Err)
			continue
		}
		results[slots[j]] = gin.H{
			"name":       res.Name,
			"documentId": res.DocumentID,
			"pages":      res.Pages,
		}
	}

	h.respondMutation(c, w, gin.H{"results": results})
}

func fileError(name string, err error) gin.H {
	code, message := "INTERNAL_ERROR", "サーバー内部でエラーが発生しました。"
	var apiErr *pdf.Error
	if errors.As(err, &apiErr) {
		code, message = apiErr.Code, apiErr.Message
	}
	return gin.H{
		"name": name,
		"error": gin.H{
			"code":    code,
			"message": message,
		},
	}
}

// AddDocumentPages は POST /api/workbench/documents/:id/pages のハンドラーです。
func (h *Handlers) AddDocumentPages(c *gin.Context) {
	w, ok := h.workbench(c)
	if !ok {
		return
	}
	n, err := w.AddDocumentPages(DocumentID(c.Param("id")))
	if err != nil {
		respondWithError(c, err)
		return
	}
	h.respondMutation(c, w, gin.H{"added": n})
}

// RemovePage は DELETE /api/workbench/pages/:index のハンドラーです。
func (h *Handlers) RemovePage(c *gin.Context) {
	w, ok := h.workbench(c)
	if !ok {
		return
	}
	position, err := parsePosition(c.Param("index"))
	if err != nil {
		respondWithError(c, err)
		return
	}
	if _, err := w.Remove(position); err != nil {
		respondWithError(c, err)
		return
	}
	h.respondMutation(c, w, nil)
}

type moveRequest struct {
	From *int `json:"from" form:"from"`
	To   *int `json:"to" form:"to"`
}

// MovePage は POST /api/workbench/pages/move のハンドラーです。
func (h *Handlers) MovePage(c *gin.Context) {
	w, ok := h.workbench(c)
	if !ok {
		return
	}
	var req moveRequest
	if err := c.ShouldBind(&req); err != nil || req.From == nil || req.To == nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"code":    "INVALID_INPUT",
			"message": "from と to を整数で指定してください。",
		})
		return
	}
	if err := w.Move(*req.From, *req.To); err != nil {
		respondWithError(c, err)
		return
	}
	h.respondMutation(c, w, nil)
}

// Reorder は POST /api/workbench/pages/reorder のハンドラーです。
func (h *Handlers) Reorder(c *gin.Context) {
	w, ok := h.workbench(c)
	if !ok {
		return
	}
	order, err := parseOrder(c)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"code":    "INVALID_INPUT",
			"message": err.Error(),
		})
		return
	}
	if order == nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"code":    "INVALID_INPUT",
			"message": "order を指定してください。",
		})
		return
	}
	if err := w.Reorder(order); err != nil {
		respondWithError(c, err)
		return
	}
	h.respondMutation(c, w, nil)
}

// Thumbnail は GET /api/workbench/pages/:index/thumbnail のハンドラーです。
func (h *Handlers) Thumbnail(c *gin.Context) {
	w, ok := h.workbench(c)
	if !ok {
		return
	}
	position, err := parsePosition(c.Param("index"))
	if err != nil {
		respondWithError(c, err)
		return
	}
	width, err := h.thumbnailWidth(c.Query("width"))
	if err != nil {
		respondWithError(c, err)
		return
	}

	data, err := w.Thumbnail(c.Request.Context(), position, width)
	if err != nil {
		respondWithError(c, err)
		return
	}
	c.Header("Cache-Control", "private, max-age=60")
	c.Data(http.StatusOK, "image/png", data)
}

func (h *Handlers) thumbnailWidth(raw string) (int, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return h.opts.ThumbnailWidth, nil
	}
	width, err := strconv.Atoi(raw)
	if err != nil || width <= 0 {
		return 0, pdf.NewError(pdf.CodeInvalidInput, "width は1以上の整数で指定してください。", nil)
	}
	if width > h.opts.MaxThumbnailWidth {
		width = h.opts.MaxThumbnailWidth
	}
	return width, nil
}

// Merge は POST /api/workbench/merge のハンドラーです。
// 閾値を超える結合は非同期ジョブとして投入し、202 と jobId を返します。
func (h *Handlers) Merge(c *gin.Context) {
	w, ok := h.workbench(c)
	if !ok {
		return
	}
	preset, err := pdf.NormalizePreset(pdf.OptimizePreset(c.PostForm("preset")))
	if err != nil {
		respondWithError(c, err)
		return
	}

	if h.opts.Scheduler != nil {
		sources, pages, totalSize, err := w.ComposeSources()
		if err != nil {
			respondWithError(c, err)
			return
		}
		if h.shouldProcessAsync(totalSize, len(pages)) {
			jobID, err := h.opts.Scheduler.ScheduleCompose(c.Request.Context(), w.ID(), sources, pages, preset)
			if err != nil {
				respondWithError(c, err)
				return
			}
			h.opts.Logger.Printf("workbench=%s compose queued job=%s pages=%d bytes=%d", w.ID(), jobID, len(pages), totalSize)
			c.JSON(http.StatusAccepted, gin.H{"jobId": jobID})
			return
		}
	}

	out, err := w.Merge(c.Request.Context(), preset)
	if err != nil {
		respondWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"pages":     out.Pages,
		"size":      len(out.Data),
		"preset":    out.Preset,
		"createdAt": out.CreatedAt,
		"filename":  pdf.SuggestedFilename(out.CreatedAt),
	})
}

func (h *Handlers) shouldProcessAsync(totalSize int64, totalPages int) bool {
	if h.opts.AsyncThresholdBytes > 0 && totalSize > h.opts.AsyncThresholdBytes {
		return true
	}
	if h.opts.AsyncThresholdPages > 0 && totalPages > h.opts.AsyncThresholdPages {
		return true
	}
	return false
}

// Output は GET /api/workbench/output のハンドラーです。プレビュー用に inline で返します。
func (h *Handlers) Output(c *gin.Context) {
	w, ok := h.workbench(c)
	if !ok {
		return
	}
	out, found := w.Output()
	if !found {
		respondWithError(c, pdf.NewError(pdf.CodeOutputNotFound, "結合結果がありません。先に結合を実行してください。", nil))
		return
	}
	filename := pdf.SuggestedFilename(out.CreatedAt)
	c.Header("Content-Disposition", contentDisposition("inline", filename))
	c.Header("Cache-Control", "no-store")
	c.Header("X-Output-Stale", strconv.FormatBool(out.Stale))
	c.Data(http.StatusOK, export.MIMETypePDF, out.Data)
}

// Save は POST /api/workbench/output/save のハンドラーです。
func (h *Handlers) Save(c *gin.Context) {
	w, ok := h.workbench(c)
	if !ok {
		return
	}
	out, found := w.Output()
	if !found {
		respondWithError(c, pdf.NewError(pdf.CodeOutputNotFound, "保存する結合結果がありません。先に結合を実行してください。", nil))
		return
	}

	sharer := &attachmentSharer{c: c}
	dispatcher := export.NewDispatcher(
		h.opts.Capability,
		h.opts.Writer,
		formPicker{c: c},
		sharer,
		export.WithLogger(h.opts.Logger),
	)
	outcome, err := dispatcher.Save(c.Request.Context(), out.Data)
	if err != nil {
		if sharer.written {
			h.opts.Logger.Printf("workbench=%s share failed after response started: %v", w.ID(), err)
			return
		}
		respondWithError(c, err)
		return
	}
	if outcome.Mode == export.CapabilityShare {
		// 本体は attachmentSharer が書き込み済み
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"mode":     outcome.Mode.String(),
		"canceled": outcome.Canceled,
		"path":     outcome.Path,
		"filename": outcome.Filename,
		"size":     outcome.Size,
	})
}

// Reset は DELETE /api/workbench のハンドラーです。
func (h *Handlers) Reset(c *gin.Context) {
	w, ok := h.workbench(c)
	if !ok {
		return
	}
	if err := w.Reset(); err != nil {
		respondWithError(c, err)
		return
	}
	h.respondMutation(c, w, nil)
}

// formPicker はフォームの path を保存先として返します。空ならキャンセル扱いです。
type formPicker struct {
	c *gin.Context
}

func (p formPicker) PickDestination(_ context.Context, suggested string) (string, bool, error) {
	path := strings.TrimSpace(p.c.PostForm("path"))
	if path == "" {
		return "", false, nil
	}
	if strings.HasSuffix(path, "/") {
		path += suggested
	}
	return path, true, nil
}

// attachmentSharer は仮想ファイルをダウンロードとしてレスポンスに書き込みます。
type attachmentSharer struct {
	c       *gin.Context
	written bool
}

func (s *attachmentSharer) Share(_ context.Context, file export.VirtualFile) error {
	if s.c.Writer.Written() {
		return errors.New("response already written")
	}
	s.c.Header("Content-Disposition", contentDisposition("attachment", file.Name))
	s.c.Header("Cache-Control", "no-store")
	s.c.Data(http.StatusOK, file.MIMEType, file.Data)
	s.written = true
	return nil
}

func contentDisposition(kind, filename string) string {
	return fmt.Sprintf("%s; filename=\"%s\"; filename*=UTF-8''%s", kind, filename, url.PathEscape(filename))
}

func parsePosition(raw string) (int, error) {
	position, err := strconv.Atoi(strings.TrimSpace(raw))
	if err != nil {
		return 0, pdf.NewError(pdf.CodeInvalidInput, "ページ位置は整数で指定してください。", nil)
	}
	return position, nil
}

func parseOrder(c *gin.Context) ([]int, error) {
	raw := strings.TrimSpace(c.PostForm("order"))
	if raw != "" {
		var order []int
		if err := json.Unmarshal([]byte(raw), &order); err != nil {
			return nil, errors.New("order は JSON 形式の整数配列で指定してください。例: [0,1,2]")
		}
		return order, nil
	}

	if values := c.PostFormArray("order[]"); len(values) > 0 {
		order := make([]int, len(values))
		for i, v := range values {
			trimmed := strings.TrimSpace(v)
			if trimmed == "" {
				return nil, errors.New("order[] に空の値が含まれています。")
			}
			num, err := strconv.Atoi(trimmed)
			if err != nil {
				return nil, errors.New("order[] の値は整数で指定してください。")
			}
			order[i] = num
		}
		return order, nil
	}

	return nil, nil
}

func respondWithError(c *gin.Context, err error) {
	var apiErr *pdf.Error
	switch {
	case errors.As(err, &apiErr):
		c.JSON(statusForCode(apiErr.Code), gin.H{
			"code":    apiErr.Code,
			"message": apiErr.Message,
		})
	case errors.Is(err, ErrClosed):
		c.JSON(http.StatusConflict, gin.H{
			"code":    "WORKBENCH_CLOSED",
			"message": "ワークベンチは破棄されました。ページを再読み込みしてください。",
		})
	case errors.Is(err, context.Canceled):
		c.JSON(http.StatusRequestTimeout, gin.H{
			"code":    "REQUEST_CANCELED",
			"message": "リクエストがキャンセルされました。",
		})
	default:
		c.JSON(http.StatusInternalServerError, gin.H{
			"code":    "INTERNAL_ERROR",
			"message": "サーバー内部でエラーが発生しました。",
		})
	}
}

func statusForCode(code string) int {
	switch code {
	case pdf.CodeLimitExceeded:
		return http.StatusRequestEntityTooLarge
	case pdf.CodeDocumentNotFound, pdf.CodeOutputNotFound:
		return http.StatusNotFound
	case pdf.CodeSaveFailed, pdf.CodeRenderFailed, pdf.CodeMergeFailed:
		return http.StatusInternalServerError
	default:
		return http.StatusBadRequest
	}
}
