package main

import "github.com/shubham-kr2002/AI-JOB-AGENT/services/gateway/cli"

func main() {
	cli.Execute()
}
