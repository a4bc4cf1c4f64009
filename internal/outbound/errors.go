package outbound

import (
	"github.com/pkg/errors"

	"chatlink/pkg/types"
)

var (
	ErrEmptyMessage     = types.ErrEmptyText
	ErrUnexpectedStatus = errors.New("outbound: unexpected response status")
)
