// Command engagementd runs the campaign engagement ingestion pipeline.
package main

import "github.com/jdziat/engagement-jobs/cmd/engagementd/cmd"

func main() {
	cmd.Execute()
}
