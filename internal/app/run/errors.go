package run

import (
	"errors"
	"fmt"
)

// Error 是 pipeline 的结构化错误：哪个阶段失败、对应的 error_code、以及原始错误。
type Error struct {
	Stage string
	Code  string
	Err   error
}

func (e *Error) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("%s：阶段 %s 失败", e.Code, e.Stage)
	}
	return fmt.Sprintf("%s：阶段 %s 失败：%v", e.Code, e.Stage, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// CodeOf 从 error 中提取 error_code；若不是 *Error 则返回空串。
func CodeOf(err error) string {
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return ""
}

// StageOf 从 error 中提取失败阶段；若不是 *Error 则返回空串。
func StageOf(err error) string {
	var e *Error
	if errors.As(err, &e) {
		return e.Stage
	}
	return ""
}

func stageErr(stage, code string, err error) error {
	return &Error{Stage: stage, Code: code, Err: err}
}
