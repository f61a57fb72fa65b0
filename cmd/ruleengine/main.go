package main

import "github.com/SoNiC-HeRE/Zeotap-Rule-Engine-Assignment/internal/cli"

func main() {
	cli.Execute()
}
