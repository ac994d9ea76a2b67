package model

import (
	"net/http"
)

// ErrorKind 分割失败的类别，决定HTTP状态码
type ErrorKind int

const (
	// KindValidation 输入校验失败（扩展名、提示格式等）
	KindValidation ErrorKind = iota
	// KindDecode 图片无法解码
	KindDecode
	// KindInference 聚类或模型推理失败
	KindInference
	// KindEmpty 推理成功但没有产生任何掩码
	KindEmpty
)

// SegmentError 策略层的类型化失败，替代统一的500
type SegmentError struct {
	Kind ErrorKind
	Msg  string
	Err  error
}

func (e *SegmentError) Error() string {
	if e.Err != nil {
		return e.Msg + ": " + e.Err.Error()
	}
	return e.Msg
}

func (e *SegmentError) Unwrap() error {
	return e.Err
}

// HTTPStatus 错误类别到状态码的映射
func (e *SegmentError) HTTPStatus() int {
	switch e.Kind {
	case KindValidation, KindDecode:
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

func Validation(msg string) *SegmentError {
	return &SegmentError{Kind: KindValidation, Msg: msg}
}

func Decode(msg string, err error) *SegmentError {
	return &SegmentError{Kind: KindDecode, Msg: msg, Err: err}
}

func Inference(msg string, err error) *SegmentError {
	return &SegmentError{Kind: KindInference, Msg: msg, Err: err}
}

func Empty(msg string) *SegmentError {
	return &SegmentError{Kind: KindEmpty, Msg: msg}
}
