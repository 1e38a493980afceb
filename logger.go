package tiercache

import "github.com/unkn0wn-root/tiercache/log"

type (
	Logger    = log.Logger
	Fields    = log.Fields
	NopLogger = log.Nop
)
