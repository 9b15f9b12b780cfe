package rec

import (
	"errors"
	"fmt"
)

// 帧记录编解码错误，可用 errors.Is 判断
var (
	ErrTruncatedRecord = errors.New("rec: truncated record")
	ErrCorruptRecord   = errors.New("rec: corrupt record header")
	ErrAuxLength       = errors.New("rec: aux payload longer than aux length")
)

// IOError 底层读写失败，记录失败的操作
type IOError struct {
	Op  string
	Err error
}

func (e *IOError) Error() string {
	return fmt.Sprintf("rec: %s: %v", e.Op, e.Err)
}

func (e *IOError) Unwrap() error {
	return e.Err
}
