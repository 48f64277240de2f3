package pdf

import "errors"

// エラーコード。HTTP レスポンスの code とジョブの失敗情報にそのまま使います。
const (
	CodeInvalidInput     = "INVALID_INPUT"
	CodeLimitExceeded    = "LIMIT_EXCEEDED"
	CodeUnsupportedPDF   = "UNSUPPORTED_PDF"
	CodeOpenFailed       = "OPEN_FAILED"
	CodeMergeFailed      = "MERGE_FAILED"
	CodeEmptySelection   = "EMPTY_SELECTION"
	CodeSaveFailed       = "SAVE_FAILED"
	CodeRenderFailed     = "RENDER_FAILED"
	CodeOutOfRange       = "OUT_OF_RANGE"
	CodeDocumentNotFound = "DOCUMENT_NOT_FOUND"
	CodeOutputNotFound   = "OUTPUT_NOT_FOUND"
)

// Error はユーザーへ提示できるメッセージ付きのエラーです。
type Error struct {
	Code    string
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return e.Code + ": " + e.Message + ": " + e.Err.Error()
	}
	return e.Code + ": " + e.Message
}

func (e *Error) Unwrap() error {
	return e.Err
}

func newError(code, message string, err error) *Error {
	return &Error{Code: code, Message: message, Err: err}
}

// NewError は他パッケージから同じ形式のエラーを組み立てるためのものです。
func NewError(code, message string, err error) *Error {
	return newError(code, message, err)
}

// HasCode は err の連鎖に指定コードの *Error が含まれるかを返します。
func HasCode(err error, code string) bool {
	var apiErr *Error
	if errors.As(err, &apiErr) {
		return apiErr.Code == code
	}
	return false
}
