package main

import "github.com/oshokin/cosmos-bootstrap/cmd/cosmos-bootstrap/cmd"

func main() {
	cmd.Execute()
}
