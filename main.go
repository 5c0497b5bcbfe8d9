package main

import (
	"github.com/pulumi/pulumi/sdk/v3/go/pulumi"

	"github.com/GiorgioAcossi/wordpress-serverless/internal/stack"
)

func main() {
	pulumi.Run(stack.Program)
}
