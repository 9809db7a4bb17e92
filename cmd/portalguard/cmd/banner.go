package cmd

import (
	"fmt"
	"io"
)

const banner = `
  ____            _        _  ____                     _
 |  _ \ ___  _ __| |_ __ _| |/ ___|_   _  __ _ _ __ __| |
 | |_) / _ \| '__| __/ _` + "`" + ` | | |  _| | | |/ _` + "`" + ` | '__/ _` + "`" + ` |
 |  __/ (_) | |  | || (_| | | |_| | |_| | (_| | | | (_| |
 |_|   \___/|_|   \__\__,_|_|\____|\__,_|\__,_|_|  \__,_|
`

func printBanner(w io.Writer) {
	fmt.Fprintf(w, "\x1b[34m%s\x1b[0m", banner)
	fmt.Fprintf(w, "\x1b[32m  Portal Request Guard - Version %s\x1b[0m\n\n", Version)
}
