// coachctl - operator CLI for the sales coaching server
package main

import "github.com/worldwidesoldier/sales-coach-ai/internal/cli"

func main() {
	cli.Execute()
}
