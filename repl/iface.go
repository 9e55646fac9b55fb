package repl

import (
	"github.com/kvnode/kvnode/conn"
	"github.com/kvnode/kvnode/store"
)

var (
	_ store.Enqueuer = (*Master)(nil)
	_ conn.Registrar = (*Master)(nil)
)
