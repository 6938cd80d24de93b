package main

import (
	"fmt"

	"github.com/pedohorse/lance/cmd"
)

func main() {
	if err := cmd.Run(); err != nil {
		fmt.Println(err.Error())
		return
	}
}
