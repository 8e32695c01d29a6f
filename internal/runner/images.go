package runner

import (
	"context"
	"fmt"
	"slices"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/ec2"
	"github.com/aws/aws-sdk-go-v2/service/ec2/types"
	"github.com/chainguard-dev/clog"
)

// ImageFamily describes a family of machine images published by one owner,
// of which the newest is used.
type ImageFamily struct {
	Name        string
	Owner       string
	NamePattern string

	// DockerSudo is set when the image's default user is not in the docker
	// group, so docker must be invoked through sudo.
	DockerSudo bool

	// SetupCommands run on first connect when Config.SetupCommands is nil.
	SetupCommands []string
}

var (
	imageFamilyHabana = ImageFamily{
		Name:        "habana-dlami",
		Owner:       "amazon",
		NamePattern: "*Deep Learning AMI Habana*Ubuntu 20.04*",
	}
	imageFamilyGPU = ImageFamily{
		Name:        "gpu-dlami",
		Owner:       "amazon",
		NamePattern: "*Deep Learning AMI GPU*Ubuntu 20.04*",
	}
	imageFamilyUbuntu = ImageFamily{
		Name:          "ubuntu",
		Owner:         "099720109477", // Canonical
		NamePattern:   "ubuntu/images/hvm-ssd/ubuntu-focal-20.04-amd64-server-*",
		DockerSudo:    true,
		SetupCommands: cmdSetInstallDocker,
	}
)

// Installs the Docker engine from Docker's own apt repository, following
// https://docs.docker.com/engine/install/ubuntu/
var cmdSetInstallDocker = []string{
	"set -e",
	// cloud-init may still be holding the apt lock on a fresh boot.
	"cloud-init status --wait > /dev/null 2>&1 || true",
	"sudo apt-get update",
	"sudo apt-get install -y ca-certificates curl",
	"sudo install -m 0755 -d /etc/apt/keyrings",
	"sudo curl -fsSL https://download.docker.com/linux/ubuntu/gpg -o /etc/apt/keyrings/docker.asc",
	"sudo chmod a+r /etc/apt/keyrings/docker.asc",
	`echo \
"deb [arch=$(dpkg --print-architecture) signed-by=/etc/apt/keyrings/docker.asc] https://download.docker.com/linux/ubuntu \
$(. /etc/os-release && echo "$VERSION_CODENAME") stable" | \
sudo tee /etc/apt/sources.list.d/docker.list > /dev/null`,
	"sudo apt-get update",
	"sudo apt-get install -y docker-ce docker-ce-cli containerd.io",
}

var ErrNoImage = fmt.Errorf("no machine image found")

// selectImage returns the id of the newest available image in 'family'.
func selectImage(ctx context.Context, client EC2API, family ImageFamily) (string, error) {
	log := clog.FromContext(ctx).With("family", family.Name, "owner", family.Owner)

	out, err := client.DescribeImages(ctx, &ec2.DescribeImagesInput{
		Owners: []string{family.Owner},
		Filters: []types.Filter{
			{Name: aws.String("name"), Values: []string{family.NamePattern}},
			{Name: aws.String("state"), Values: []string{string(types.ImageStateAvailable)}},
		},
	})
	if err != nil {
		return "", fmt.Errorf("describing images: %w", err)
	}
	if len(out.Images) == 0 {
		return "", fmt.Errorf("%w: %s (%s)", ErrNoImage, family.NamePattern, family.Owner)
	}

	// CreationDate is RFC 3339 in UTC, so lexical order is chronological.
	newest := slices.MaxFunc(out.Images, func(a, b types.Image) int {
		return strings.Compare(aws.ToString(a.CreationDate), aws.ToString(b.CreationDate))
	})
	log.Info("selected machine image",
		"id", aws.ToString(newest.ImageId),
		"name", aws.ToString(newest.Name),
		"created", aws.ToString(newest.CreationDate),
		"candidates", len(out.Images),
	)
	return aws.ToString(newest.ImageId), nil
}
