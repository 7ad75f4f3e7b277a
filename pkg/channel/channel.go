package channel

import "github.com/gorilla/mux"

// Adapter binds one messaging platform's webhook onto the gateway router.
type Adapter interface {
	Name() string
	Mount(router *mux.Router)
}
