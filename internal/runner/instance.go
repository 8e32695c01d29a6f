package runner

import (
	"context"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/ec2"
	"github.com/aws/aws-sdk-go-v2/service/ec2/types"
	"github.com/chainguard-dev/clog"
)

type instance struct {
	client           EC2API
	name             string
	imageID          string
	instanceType     types.InstanceType
	keyName          string
	securityGroupID  string
	subnetID         string
	rootVolumeSize   int32
	runningTimeout   time.Duration
	terminateTimeout time.Duration

	id      string
	address string
}

var _ resource = (*instance)(nil)

var ErrNoInstance = fmt.Errorf("no instance returned from launch")

func (i *instance) create(ctx context.Context) (Teardown, error) {
	log := clog.FromContext(ctx)

	input := &ec2.RunInstancesInput{
		ImageId:          aws.String(i.imageID),
		InstanceType:     i.instanceType,
		MinCount:         aws.Int32(1),
		MaxCount:         aws.Int32(1),
		KeyName:          aws.String(i.keyName),
		SecurityGroupIds: []string{i.securityGroupID},
		BlockDeviceMappings: []types.BlockDeviceMapping{{
			DeviceName: aws.String("/dev/sda1"),
			Ebs: &types.EbsBlockDevice{
				VolumeSize:          aws.Int32(i.rootVolumeSize),
				VolumeType:          types.VolumeTypeGp3,
				DeleteOnTermination: aws.Bool(true),
			},
		}},
		TagSpecifications: append(
			tagSpecification(types.ResourceTypeInstance, i.name),
			tagSpecification(types.ResourceTypeVolume, i.name)...,
		),
	}
	if i.subnetID != "" {
		input.SubnetId = aws.String(i.subnetID)
	}

	result, err := i.client.RunInstances(ctx, input)
	if err != nil {
		return nil, fmt.Errorf("launching instance: %w", err)
	}
	if result == nil || len(result.Instances) == 0 || result.Instances[0].InstanceId == nil {
		return nil, ErrNoInstance
	}
	i.id = aws.ToString(result.Instances[0].InstanceId)
	log.Info("launched instance", "id", i.id, "type", i.instanceType, "image", i.imageID)

	return i.terminate, nil
}

// terminate terminates the instance and waits until it is gone, so the
// security group it used is released and can be deleted.
func (i *instance) terminate(ctx context.Context) error {
	log := clog.FromContext(ctx).With("id", i.id)
	log.Info("terminating instance", "address", i.address)

	_, err := i.client.TerminateInstances(ctx, &ec2.TerminateInstancesInput{
		InstanceIds: []string{i.id},
	})
	if err != nil {
		return fmt.Errorf("terminating instance: %w", err)
	}

	log.Info("waiting for instance to terminate", "timeout", i.terminateTimeout)
	waiter := ec2.NewInstanceTerminatedWaiter(i.client)
	if err := waiter.Wait(ctx, &ec2.DescribeInstancesInput{
		InstanceIds: []string{i.id},
	}, i.terminateTimeout); err != nil {
		return fmt.Errorf("waiting for instance termination: %w", err)
	}
	log.Info("instance terminated")
	return nil
}

var ErrNoAddress = fmt.Errorf("instance has no public address")

// wait blocks until the instance is running, then records its public
// address: the DNS name when it has one, otherwise the IP.
func (i *instance) wait(ctx context.Context) error {
	log := clog.FromContext(ctx).With("id", i.id)

	log.Info("waiting for instance to enter running state", "timeout", i.runningTimeout)
	waiter := ec2.NewInstanceRunningWaiter(i.client)
	out, err := waiter.WaitForOutput(ctx, &ec2.DescribeInstancesInput{
		InstanceIds: []string{i.id},
	}, i.runningTimeout)
	if err != nil {
		return fmt.Errorf("waiting for running state: %w", err)
	}
	if len(out.Reservations) == 0 || len(out.Reservations[0].Instances) == 0 {
		return fmt.Errorf("instance %s not found in waiter output", i.id)
	}
	inst := out.Reservations[0].Instances[0]
	switch {
	case aws.ToString(inst.PublicDnsName) != "":
		i.address = aws.ToString(inst.PublicDnsName)
	case aws.ToString(inst.PublicIpAddress) != "":
		i.address = aws.ToString(inst.PublicIpAddress)
	default:
		return fmt.Errorf("%w: %s", ErrNoAddress, i.id)
	}
	log.Info("instance is running", "address", i.address)
	return nil
}
