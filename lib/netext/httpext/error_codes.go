/*
 *
 * surge - a virtual-user load generator for HTTP APIs
 * Copyright (C) 2026 surge authors
 *
 * This program is free software: you can redistribute it and/or modify
 * it under the terms of the GNU Affero General Public License as
 * published by the Free Software Foundation, either version 3 of the
 * License, or (at your option) any later version.
 *
 * This program is distributed in the hope that it will be useful,
 * but WITHOUT ANY WARRANTY; without even the implied warranty of
 * MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
 * GNU Affero General Public License for more details.
 *
 * You should have received a copy of the GNU Affero General Public License
 * along with this program.  If not, see <http://www.gnu.org/licenses/>.
 *
 */

package httpext

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"errors"
	"fmt"
	"net"
	"net/url"
	"os"
	"runtime"
	"syscall"

	"golang.org/x/net/http2"
)

// ErrCode is the numeric classification of a transport-level failure.
type ErrCode uint32

const (
	// non specific
	DefaultErrorCode          ErrCode = 1000
	DefaultNetNonTCPErrorCode ErrCode = 1010
	RequestTimeoutErrorCode   ErrCode = 1050
	// DNS errors
	DefaultDNSErrorCode    ErrCode = 1100
	DNSNoSuchHostErrorCode ErrCode = 1101
	// tcp errors
	DefaultTCPErrorCode      ErrCode = 1200
	TCPBrokenPipeErrorCode   ErrCode = 1201
	NetUnknownErrnoErrorCode ErrCode = 1202
	TCPDialErrorCode         ErrCode = 1210
	TCPDialTimeoutErrorCode  ErrCode = 1211
	TCPDialRefusedErrorCode  ErrCode = 1212
	TCPResetByPeerErrorCode  ErrCode = 1220
	// TLS errors
	DefaultTLSErrorCode           ErrCode = 1300
	X509UnknownAuthorityErrorCode ErrCode = 1310
	X509HostnameErrorCode         ErrCode = 1311

	// HTTP2 GoAway errors
	UnknownHTTP2GoAwayErrorCode ErrCode = 1610
	// errors till 1611 + 13 are other HTTP2 GoAway errors with a specific errCode

	// HTTP2 Stream errors
	UnknownHTTP2StreamErrorCode ErrCode = 1630
	// errors till 1631 + 13 are other HTTP2 Stream errors with a specific errCode

	// HTTP2 Connection errors
	UnknownHTTP2ConnectionErrorCode ErrCode = 1650
	// errors till 1651 + 13 are other HTTP2 Connection errors with a specific errCode

	// Custom surge content errors, i.e. when the magic fails
	ResponseDecompressionErrorCode ErrCode = 1701
	InvalidURLErrorCode            ErrCode = 1720
)

const (
	tcpResetByPeerErrorCodeMsg  = "write: connection reset by peer"
	tcpDialTimeoutErrorCodeMsg  = "dial: i/o timeout"
	tcpDialRefusedErrorCodeMsg  = "dial: connection refused"
	tcpBrokenPipeErrorCodeMsg   = "write: broken pipe"
	netUnknownErrnoErrorCodeMsg = "%s: unknown errno `%d` on %s with message `%s`"
	dnsNoSuchHostErrorCodeMsg   = "lookup: no such host"
	http2GoAwayErrorCodeMsg     = "http2: received GoAway with http2 ErrCode %s"
	http2StreamErrorCodeMsg     = "http2: stream error with http2 ErrCode %s"
	http2ConnectionErrorCodeMsg = "http2: connection error with http2 ErrCode %s"
	x509HostnameErrorCodeMsg    = "x509: certificate doesn't match hostname"
	x509UnknownAuthorityMsg     = "x509: unknown authority"
	requestTimeoutErrorCodeMsg  = "request timeout"
)

// TransportError is returned by Client.Do when no HTTP response could be
// obtained. Message is a short stable description, Err the underlying cause.
type TransportError struct {
	Code    ErrCode
	Message string
	Err     error
}

// NewTransportError classifies err and wraps it.
func NewTransportError(err error) *TransportError {
	var terr *TransportError
	if errors.As(err, &terr) {
		return terr
	}
	code, msg := errorCodeForError(err)
	if msg == "" {
		msg = err.Error()
	}
	return &TransportError{Code: code, Message: msg, Err: err}
}

func (e *TransportError) Error() string {
	return e.Message
}

// Unwrap returns the underlying error.
func (e *TransportError) Unwrap() error {
	return e.Err
}

// IsTimeout reports whether the request failed because a deadline fired.
func (e *TransportError) IsTimeout() bool {
	return e.Code == RequestTimeoutErrorCode || e.Code == TCPDialTimeoutErrorCode
}

func http2ErrCodeOffset(code http2.ErrCode) ErrCode {
	if code > http2.ErrCodeHTTP11Required {
		return 0
	}
	return 1 + ErrCode(code)
}

// errorCodeForError returns the error code and a specific error message for
// the given error. If the message is empty the original error string should
// be used.
func errorCodeForError(err error) (ErrCode, string) {
	var (
		dnsError     *net.DNSError
		goAwayError  *http2.GoAwayError
		streamError  *http2.StreamError
		connError    http2.ConnectionError
		opError      *net.OpError
		unknownAuth  x509.UnknownAuthorityError
		hostnameErr  x509.HostnameError
		recordHdrErr tls.RecordHeaderError
	)

	switch {
	case errors.Is(err, context.DeadlineExceeded):
		return RequestTimeoutErrorCode, requestTimeoutErrorCodeMsg
	case errors.As(err, &dnsError):
		if dnsError.IsNotFound {
			return DNSNoSuchHostErrorCode, dnsNoSuchHostErrorCodeMsg
		}
		return DefaultDNSErrorCode, ""
	case errors.As(err, &goAwayError):
		return UnknownHTTP2GoAwayErrorCode + http2ErrCodeOffset(goAwayError.ErrCode),
			fmt.Sprintf(http2GoAwayErrorCodeMsg, goAwayError.ErrCode)
	case errors.As(err, &streamError):
		return UnknownHTTP2StreamErrorCode + http2ErrCodeOffset(streamError.Code),
			fmt.Sprintf(http2StreamErrorCodeMsg, streamError.Code)
	case errors.As(err, &connError):
		return UnknownHTTP2ConnectionErrorCode + http2ErrCodeOffset(http2.ErrCode(connError)),
			fmt.Sprintf(http2ConnectionErrorCodeMsg, http2.ErrCode(connError))
	case errors.As(err, &opError):
		return getNetOpErrorCode(opError)
	case errors.As(err, &unknownAuth):
		return X509UnknownAuthorityErrorCode, x509UnknownAuthorityMsg
	case errors.As(err, &hostnameErr):
		return X509HostnameErrorCode, x509HostnameErrorCodeMsg
	case errors.As(err, &recordHdrErr):
		return DefaultTLSErrorCode, ""
	}

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return RequestTimeoutErrorCode, requestTimeoutErrorCodeMsg
	}
	var urlErr *url.Error
	if errors.As(err, &urlErr) && urlErr.Op == "parse" {
		return InvalidURLErrorCode, ""
	}
	return DefaultErrorCode, ""
}

func getNetOpErrorCode(e *net.OpError) (ErrCode, string) {
	if e.Net != "tcp" && e.Net != "tcp6" {
		return DefaultNetNonTCPErrorCode, ""
	}
	if e.Op == "write" {
		switch {
		case errors.Is(e.Err, syscall.ECONNRESET):
			return TCPResetByPeerErrorCode, tcpResetByPeerErrorCodeMsg
		case errors.Is(e.Err, syscall.EPIPE):
			return TCPBrokenPipeErrorCode, tcpBrokenPipeErrorCodeMsg
		}
	}
	if e.Op == "dial" {
		if e.Timeout() {
			return TCPDialTimeoutErrorCode, tcpDialTimeoutErrorCodeMsg
		}
		if errors.Is(e.Err, syscall.ECONNREFUSED) {
			return TCPDialRefusedErrorCode, tcpDialRefusedErrorCodeMsg
		}
		return TCPDialErrorCode, ""
	}
	if e.Timeout() {
		return RequestTimeoutErrorCode, requestTimeoutErrorCodeMsg
	}

	var sysErr *os.SyscallError
	if errors.As(e.Err, &sysErr) {
		var errno syscall.Errno
		if errors.As(sysErr.Err, &errno) {
			return NetUnknownErrnoErrorCode,
				fmt.Sprintf(netUnknownErrnoErrorCodeMsg, e.Op, int(errno), runtime.GOOS, errno.Error())
		}
	}
	return DefaultTCPErrorCode, ""
}
