package fetch

import (
	"errors"

	"github.com/roach88/restcache/internal/resolver"
)

var (
	// ErrNoRequestKey is returned when a descriptor carries neither a
	// request key nor a URL to derive one.
	ErrNoRequestKey = resolver.ErrNoRequestKey

	// ErrUnknownPolicy is returned by ParsePolicy.
	ErrUnknownPolicy = errors.New("unknown fetch policy")

	// ErrRequestFailed is returned by Mutation.Wait when the resolver
	// reported a failure without an error value.
	ErrRequestFailed = errors.New("request failed")

	// ErrClosed is returned for work submitted after Close.
	ErrClosed = errors.New("client closed")
)
