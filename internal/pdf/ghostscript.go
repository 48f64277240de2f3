package pdf

import (
	"bytes"
	"context"
	"fmt"
	"image"
	"image/png"
	"math"
	"os/exec"
	"strconv"
	"strings"

	"golang.org/x/image/draw"
)

const (
	minRenderDPI = 8
	maxRenderDPI = 600
)

// OptimizePreset は圧縮プリセットの種類を表します。
type OptimizePreset string

const (
	OptimizePresetNone       OptimizePreset = "none"
	OptimizePresetStandard   OptimizePreset = "standard"
	OptimizePresetAggressive OptimizePreset = "aggressive"
)

// NormalizePreset は入力文字列をプリセットへ変換します。空文字は圧縮なしです。
func NormalizePreset(p OptimizePreset) (OptimizePreset, error) {
	switch strings.ToLower(strings.TrimSpace(string(p))) {
	case "", string(OptimizePresetNone):
		return OptimizePresetNone, nil
	case string(OptimizePresetStandard):
		return OptimizePresetStandard, nil
	case string(OptimizePresetAggressive):
		return OptimizePresetAggressive, nil
	default:
		return "", newError(CodeInvalidInput, fmt.Sprintf("presetには none / standard / aggressive のいずれかを指定してください (received: %s)", p), nil)
	}
}

// Render は1ページを幅 width ピクセルのPNGへラスタライズします。
func (e *Engine) Render(ctx context.Context, doc *Document, index, width int) ([]byte, error) {
	if doc == nil {
		return nil, newError(CodeRenderFailed, "サムネイル対象のPDFがありません。", nil)
	}
	if width <= 0 {
		return nil, newError(CodeInvalidInput, "サムネイルの幅は1以上を指定してください。", nil)
	}
	size, err := doc.PageSize(index)
	if err != nil {
		return nil, err
	}

	input, stdin, err := doc.renderSource()
	if err != nil {
		return nil, newError(CodeRenderFailed, "サムネイルの生成に失敗しました。", err)
	}

	args := renderArgs(index+1, renderDPI(width, size.Width), input)
	raw, err := e.runGhostscript(ctx, args, stdin)
	if err != nil {
		return nil, newError(CodeRenderFailed, fmt.Sprintf("%s のページ %d を描画できませんでした。", doc.name, index+1), err)
	}

	img, err := png.Decode(bytes.NewReader(raw))
	if err != nil {
		return nil, newError(CodeRenderFailed, "サムネイル画像の読み込みに失敗しました。", err)
	}
	img = scaleToWidth(img, width)

	var out bytes.Buffer
	if err := png.Encode(&out, img); err != nil {
		return nil, newError(CodeRenderFailed, "サムネイル画像の書き出しに失敗しました。", err)
	}
	return out.Bytes(), nil
}

// Optimize は Ghostscript でPDFを再圧縮します。OptimizePresetNone の場合はそのまま返します。
func (e *Engine) Optimize(ctx context.Context, data []byte, preset OptimizePreset) ([]byte, error) {
	preset, err := NormalizePreset(preset)
	if err != nil {
		return nil, err
	}
	if preset == OptimizePresetNone {
		return data, nil
	}
	out, err := e.runGhostscript(ctx, optimizeArgs(preset), data)
	if err != nil {
		return nil, newError(CodeUnsupportedPDF, "Ghostscriptによる圧縮に失敗しました。", err)
	}
	return out, nil
}

func (d *Document) renderSource() (string, []byte, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return "", nil, fmt.Errorf("document %q is already closed", d.name)
	}
	if d.path != "" {
		return d.path, nil, nil
	}
	return "-", d.data, nil
}

func (e *Engine) runGhostscript(ctx context.Context, args []string, stdin []byte) ([]byte, error) {
	cmd := exec.CommandContext(ctx, e.ghostscriptPath, args...)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	if stdin != nil {
		cmd.Stdin = bytes.NewReader(stdin)
	}

	if err := cmd.Run(); err != nil {
		return nil, fmt.Errorf("ghostscript: %w: %s", err, strings.TrimSpace(stderr.String()))
	}
	if stdout.Len() == 0 {
		return nil, fmt.Errorf("ghostscript produced no output: %s", strings.TrimSpace(stderr.String()))
	}
	return stdout.Bytes(), nil
}

func renderDPI(width int, pageWidth float64) float64 {
	if pageWidth <= 0 {
		return 72
	}
	dpi := math.Ceil(float64(width) * 72 / pageWidth)
	return math.Max(minRenderDPI, math.Min(maxRenderDPI, dpi))
}

func renderArgs(pageNr int, dpi float64, input string) []string {
	return []string{
		"-dSAFER",
		"-dBATCH",
		"-dNOPAUSE",
		"-dQUIET",
		"-sstdout=%stderr",
		"-sDEVICE=png16m",
		"-dTextAlphaBits=4",
		"-dGraphicsAlphaBits=4",
		fmt.Sprintf("-dFirstPage=%d", pageNr),
		fmt.Sprintf("-dLastPage=%d", pageNr),
		"-r" + strconv.FormatFloat(dpi, 'f', 0, 64),
		"-sOutputFile=-",
		input,
	}
}

func optimizeArgs(preset OptimizePreset) []string {
	setting := "/printer"
	if preset == OptimizePresetAggressive {
		setting = "/screen"
	}

	return []string{
		"-sDEVICE=pdfwrite",
		"-dCompatibilityLevel=1.5",
		"-dNOPAUSE",
		"-dQUIET",
		"-dBATCH",
		"-sstdout=%stderr",
		fmt.Sprintf("-dPDFSETTINGS=%s", setting),
		"-sOutputFile=-",
		"-",
	}
}

// scaleToWidth はアスペクト比を保ったまま幅をちょうど width に揃えます。
func scaleToWidth(src image.Image, width int) image.Image {
	b := src.Bounds()
	if b.Dx() == width || b.Dx() == 0 {
		return src
	}
	height := int(math.Round(float64(b.Dy()) * float64(width) / float64(b.Dx())))
	if height < 1 {
		height = 1
	}
	dst := image.NewRGBA(image.Rect(0, 0, width, height))
	draw.CatmullRom.Scale(dst, dst.Bounds(), src, b, draw.Src, nil)
	return dst
}
