package config

import "os"

func IsDebug() bool {
	return os.Getenv("MEMCTX_DEBUG") == "1"
}
