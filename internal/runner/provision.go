package runner

import (
	"context"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/service/ec2/types"
	"github.com/chainguard-dev/clog"
)

// resource is something a session creates and must later destroy.
type resource interface {
	// create creates the resource and returns its teardown. A non-nil
	// teardown is returned whenever something was left behind, even
	// alongside an error.
	create(ctx context.Context) (Teardown, error)
}

var ErrProvision = fmt.Errorf("failed to provision instance")

// provisioned is what the provision phase hands to the connect phase.
type provisioned struct {
	imageID    string
	instanceID string
	address    string
	privateKey []byte
}

// provision creates the key pair, security group and instance in that order,
// pushing each teardown onto 's', then waits for the instance to be running.
// Whatever was created stays on 's' when an error is returned.
func (r *Runner) provision(ctx context.Context, s *stack) (*provisioned, error) {
	log := clog.FromContext(ctx)

	imageID := r.cfg.ImageID
	if imageID == "" {
		id, err := selectImage(ctx, r.ec2, r.family)
		if err != nil {
			return nil, err
		}
		imageID = id
	} else {
		log.Info("using configured machine image", "id", imageID)
	}

	kp := &keyPair{
		client:  r.ec2,
		name:    r.cfg.RunName,
		keyType: types.KeyType(r.cfg.KeyType),
	}
	sg := &securityGroup{
		client:      r.ec2,
		name:        r.cfg.RunName,
		vpcID:       r.cfg.VPCID,
		sshPort:     r.cfg.SSHPort,
		ingressCIDR: r.cfg.IngressCIDR,
		lookupAddr:  r.addrProbe,
	}

	for _, res := range []struct {
		name string
		r    resource
	}{
		{"key pair", kp},
		{"security group", sg},
	} {
		if err := create(ctx, s, res.name, res.r); err != nil {
			return nil, err
		}
	}

	// The instance needs the key pair's name and the group's id.
	inst := &instance{
		client:           r.ec2,
		name:             r.cfg.RunName,
		imageID:          imageID,
		instanceType:     r.cfg.instanceType(),
		keyName:          kp.name,
		securityGroupID:  sg.id,
		subnetID:         r.cfg.SubnetID,
		rootVolumeSize:   r.cfg.RootVolumeSize,
		runningTimeout:   r.cfg.RunningTimeout,
		terminateTimeout: r.cfg.TerminateTimeout,
	}
	if err := create(ctx, s, "instance", inst); err != nil {
		return nil, err
	}
	if err := inst.wait(ctx); err != nil {
		return nil, err
	}

	return &provisioned{
		imageID:    imageID,
		instanceID: inst.id,
		address:    inst.address,
		privateKey: kp.material,
	}, nil
}

func create(ctx context.Context, s *stack, name string, r resource) error {
	teardown, err := r.create(ctx)
	if teardown != nil {
		s.Push(name, teardown)
	}
	return err
}
