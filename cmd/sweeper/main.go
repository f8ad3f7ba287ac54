package main

import "github.com/shubham-kr2002/AI-JOB-AGENT/services/sweeper/cli"

func main() {
	cli.Execute()
}
