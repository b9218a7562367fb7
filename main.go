package main

import "github.com/andresmejia3/rendition/cmd"

func main() {
	cmd.Execute()
}
