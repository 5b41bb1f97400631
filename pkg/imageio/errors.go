package imageio

import "fmt"

// ImageNotFoundError reports a path that does not exist or cannot be decoded.
type ImageNotFoundError struct {
	Path string
	Err  error
}

func (e *ImageNotFoundError) Error() string {
	return fmt.Sprintf("image not found or unreadable: %s: %v", e.Path, e.Err)
}

func (e *ImageNotFoundError) Unwrap() error { return e.Err }

// UnsupportedFormatError reports a file extension with no registered encoder.
type UnsupportedFormatError struct {
	Ext string
}

func (e *UnsupportedFormatError) Error() string {
	return fmt.Sprintf("unsupported image format: %q", e.Ext)
}
