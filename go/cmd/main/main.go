package main

import (
	"github.com/nuzDop/LimitlessOS-sub000/go/cmd"

	_ "github.com/nuzDop/LimitlessOS-sub000/go/cmd/repl"
	_ "github.com/nuzDop/LimitlessOS-sub000/go/cmd/run"
)

func main() { cmd.Main() }
