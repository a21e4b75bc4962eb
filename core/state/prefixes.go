package state

var (
	accountPrefix   = []byte("account/")
	processedPrefix = []byte("tx/processed/")
)
