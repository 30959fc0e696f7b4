// relayd - store-and-release relay for constrained-network resources
package main

import "github.com/getmockd/relayd/pkg/cli"

func main() {
	cli.Execute()
}
