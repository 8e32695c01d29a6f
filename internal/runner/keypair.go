package runner

import (
	"context"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/ec2"
	"github.com/aws/aws-sdk-go-v2/service/ec2/types"
	"github.com/chainguard-dev/clog"
)

// keyPair is an EC2 key pair whose private half is generated by EC2 and
// returned once, at creation.
type keyPair struct {
	client  EC2API
	name    string
	keyType types.KeyType

	material []byte
}

var _ resource = (*keyPair)(nil)

func (k *keyPair) create(ctx context.Context) (Teardown, error) {
	log := clog.FromContext(ctx)
	if err := createReplacing(ctx, "key pair", k.name, k.tryCreate, k.delete); err != nil {
		return nil, err
	}
	log.Info("created key pair", "name", k.name, "type", k.keyType)
	return func(ctx context.Context) error {
		clog.FromContext(ctx).Info("deleting key pair", "name", k.name)
		return k.delete(ctx)
	}, nil
}

func (k *keyPair) tryCreate(ctx context.Context) (Outcome, error) {
	out, err := k.client.CreateKeyPair(ctx, &ec2.CreateKeyPairInput{
		KeyName:           aws.String(k.name),
		KeyType:           k.keyType,
		KeyFormat:         types.KeyFormatPem,
		TagSpecifications: tagSpecification(types.ResourceTypeKeyPair, k.name),
	})
	outcome, err := outcomeOf(err, codeKeyPairDuplicate)
	if err != nil {
		return 0, fmt.Errorf("creating key pair: %w", err)
	}
	if outcome == Created {
		k.material = []byte(aws.ToString(out.KeyMaterial))
	}
	return outcome, nil
}

func (k *keyPair) delete(ctx context.Context) error {
	_, err := k.client.DeleteKeyPair(ctx, &ec2.DeleteKeyPairInput{
		KeyName: aws.String(k.name),
	})
	if err != nil {
		return fmt.Errorf("deleting key pair: %w", err)
	}
	return nil
}
