package rpc

import (
	"github.com/rexliu/acrpc/pkg/transport"
)

// Call stamps obj with token and the build number and posts it to w. An
// empty targetOrigin posts to any origin.
func Call(w transport.Window, obj Object, targetOrigin, token string) error {
	meta := obj.Metadata()
	if token != "" {
		meta.SetToken(token)
	}
	meta.Build = BuildNumber
	data, err := Encode(obj)
	if err != nil {
		return err
	}
	if targetOrigin == "" {
		targetOrigin = transport.AnyOrigin
	}
	return w.PostMessage(data, targetOrigin)
}
