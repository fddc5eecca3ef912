package main

import "github.com/bluelink-kr/bluelinkd/cmd"

func main() {
	cmd.Execute()
}
