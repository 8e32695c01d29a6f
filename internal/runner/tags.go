package runner

import (
	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/ec2/types"
)

const (
	// 'Name' is displayed by the EC2 console; the rest let leaked resources
	// be found and swept by tag.
	tagKeyName    = "Name"
	tagKeyProject = "Project"
	tagKeyRun     = "rm-runner:run"

	tagDefaultProject = "rm-runner"
)

// tagSpecification tags a resource of type 'rt' created for run 'runName'.
func tagSpecification(rt types.ResourceType, runName string) []types.TagSpecification {
	return []types.TagSpecification{
		{
			ResourceType: rt,
			Tags:         tagsForRun(runName),
		},
	}
}

func tagsForRun(runName string) []types.Tag {
	return []types.Tag{
		{Key: aws.String(tagKeyName), Value: aws.String(runName)},
		{Key: aws.String(tagKeyProject), Value: aws.String(tagDefaultProject)},
		{Key: aws.String(tagKeyRun), Value: aws.String(runName)},
	}
}
