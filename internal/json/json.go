// Package json is the JSON codec shared by the websocket transport, the HTTP
// API and the backplane.
package json

import jsoniter "github.com/json-iterator/go"

var (
	JSON = jsoniter.ConfigCompatibleWithStandardLibrary

	Marshal    = JSON.Marshal
	Unmarshal  = JSON.Unmarshal
	NewDecoder = JSON.NewDecoder
	NewEncoder = JSON.NewEncoder
)
