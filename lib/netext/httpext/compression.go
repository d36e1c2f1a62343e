package httpext

import (
	"compress/gzip"
	"compress/zlib"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/andybalholm/brotli"
	"github.com/klauspost/compress/zstd"
	"github.com/oxtoacart/bpool"
)

// acceptEncoding is sent unless the request sets its own Accept-Encoding.
const acceptEncoding = "gzip, deflate, br, zstd"

// Matches non-compliant io.Closer implementations (e.g. zstd.Decoder)
type ncloser interface {
	Close()
}

type readCloser struct {
	io.Reader
}

// Close readers with differing Close() implementations
func (r readCloser) Close() error {
	var err error
	switch v := r.Reader.(type) {
	case io.Closer:
		err = v.Close()
	case ncloser:
		v.Close()
	}
	return err
}

//nolint:gochecknoglobals
var decompressionErrors = [...]error{
	zlib.ErrChecksum, zlib.ErrDictionary, zlib.ErrHeader,
	gzip.ErrChecksum, gzip.ErrHeader,
	zstd.ErrReservedBlockType, zstd.ErrCompressedSizeTooBig, zstd.ErrBlockTooSmall, zstd.ErrMagicMismatch,
	zstd.ErrWindowSizeExceeded, zstd.ErrWindowSizeTooSmall, zstd.ErrDecoderSizeExceeded, zstd.ErrUnknownDictionary,
	zstd.ErrFrameSizeExceeded, zstd.ErrCRCMismatch, zstd.ErrDecoderClosed,
}

func newDecompressionError(originalErr error) *TransportError {
	return &TransportError{
		Code:    ResponseDecompressionErrorCode,
		Message: fmt.Sprintf("error decompressing response body (%s)", originalErr.Error()),
		Err:     originalErr,
	}
}

func wrapDecompressionError(err error) error {
	if err == nil {
		return nil
	}
	for _, decErr := range decompressionErrors {
		if errors.Is(err, decErr) {
			return newDecompressionError(err)
		}
	}
	if strings.HasPrefix(err.Error(), "brotli: ") {
		return newDecompressionError(err)
	}
	return err
}

func newDecoder(contentEncoding string, body io.Reader) (io.Reader, error) {
	switch contentEncoding {
	case "", "identity":
		return body, nil
	case "deflate":
		return zlib.NewReader(body)
	case "gzip", "x-gzip":
		return gzip.NewReader(body)
	case "zstd":
		return zstd.NewReader(body)
	case "br":
		return brotli.NewReader(body), nil
	default:
		// not something we know how to decode, hand it over as it is
		return body, nil
	}
}

// readResponseBody fully reads and closes the body of resp, transparently
// decoding it according to its Content-Encoding.
func readResponseBody(pool *bpool.BufferPool, resp *http.Response) ([]byte, error) {
	// Ensure that the entire response body is read and closed, e.g. in case of decoding errors
	defer func(respBody io.ReadCloser) {
		_, _ = io.Copy(io.Discard, respBody)
		_ = respBody.Close()
	}(resp.Body)

	contentEncoding := strings.ToLower(strings.TrimSpace(resp.Header.Get("Content-Encoding")))
	decoder, err := newDecoder(contentEncoding, resp.Body)
	if err != nil {
		return nil, newDecompressionError(err)
	}
	rc := &readCloser{decoder}

	buf := pool.Get()
	defer pool.Put(buf)
	buf.Reset()
	_, respErr := io.Copy(buf, rc.Reader)
	if respErr != nil {
		respErr = wrapDecompressionError(respErr)
	}
	if decoded := contentEncoding != "" && contentEncoding != "identity"; decoded {
		if err := rc.Close(); err != nil && respErr == nil {
			respErr = wrapDecompressionError(err)
		}
	}
	if respErr != nil {
		return nil, respErr
	}

	// Copy the data to a new slice before we return the buffer to the pool,
	// because buf.Bytes() points to the underlying buffer byte slice.
	body := make([]byte, buf.Len())
	copy(body, buf.Bytes())
	return body, nil
}
