package runner

import (
	"context"
	"fmt"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/ec2"
	"github.com/aws/aws-sdk-go-v2/service/ec2/types"
	"github.com/chainguard-dev/clog"
)

const securityGroupDescription = "rm-runner only allow SSH traffic"

var ErrNoDefaultVPC = fmt.Errorf("region has no default VPC")

// securityGroup admits SSH and nothing else.
type securityGroup struct {
	client      EC2API
	name        string
	vpcID       string
	sshPort     int32
	ingressCIDR string
	// lookupAddr resolves the caller's public address for IngressAuto.
	lookupAddr func(ctx context.Context) (string, error)

	id string
}

var _ resource = (*securityGroup)(nil)

func (sg *securityGroup) create(ctx context.Context) (Teardown, error) {
	log := clog.FromContext(ctx)

	if err := createReplacing(ctx, "security group", sg.name, sg.tryCreate, sg.deleteExisting); err != nil {
		return nil, err
	}
	log.Info("created security group", "id", sg.id, "name", sg.name)

	teardown := func(ctx context.Context) error {
		clog.FromContext(ctx).Info("deleting security group", "id", sg.id, "name", sg.name)
		return sg.deleteID(ctx, sg.id)
	}

	cidr, err := sg.resolveCIDR(ctx)
	if err != nil {
		return teardown, err
	}
	_, err = sg.client.AuthorizeSecurityGroupIngress(ctx, &ec2.AuthorizeSecurityGroupIngressInput{
		GroupId:       aws.String(sg.id),
		IpPermissions: []types.IpPermission{sshPermission(sg.sshPort, cidr)},
	})
	if err != nil {
		// The group exists at this point, so hand back its teardown.
		return teardown, fmt.Errorf("authorizing SSH ingress: %w", err)
	}
	log.Info("authorized SSH ingress", "port", sg.sshPort, "from", cidr)

	return teardown, nil
}

func (sg *securityGroup) tryCreate(ctx context.Context) (Outcome, error) {
	input := &ec2.CreateSecurityGroupInput{
		GroupName:         aws.String(sg.name),
		Description:       aws.String(securityGroupDescription),
		TagSpecifications: tagSpecification(types.ResourceTypeSecurityGroup, sg.name),
	}
	if sg.vpcID != "" {
		input.VpcId = aws.String(sg.vpcID)
	}
	out, err := sg.client.CreateSecurityGroup(ctx, input)
	outcome, err := outcomeOf(err, codeGroupDuplicate)
	if err != nil {
		return 0, fmt.Errorf("creating security group: %w", err)
	}
	if outcome == Created {
		sg.id = aws.ToString(out.GroupId)
	}
	return outcome, nil
}

// deleteExisting removes a same-named group left behind by an earlier run.
// Group names are only unique per VPC, so the lookup is scoped to the VPC the
// group is created in: the configured one, or else the default VPC.
func (sg *securityGroup) deleteExisting(ctx context.Context) error {
	vpcID := sg.vpcID
	if vpcID == "" {
		id, err := defaultVPC(ctx, sg.client)
		if err != nil {
			return err
		}
		vpcID = id
	}

	out, err := sg.client.DescribeSecurityGroups(ctx, &ec2.DescribeSecurityGroupsInput{
		Filters: []types.Filter{
			{Name: aws.String("group-name"), Values: []string{sg.name}},
			{Name: aws.String("vpc-id"), Values: []string{vpcID}},
		},
	})
	if err != nil {
		return fmt.Errorf("looking up security group: %w", err)
	}
	for _, group := range out.SecurityGroups {
		if aws.ToString(group.VpcId) != vpcID {
			continue
		}
		if err := sg.deleteID(ctx, aws.ToString(group.GroupId)); err != nil {
			return err
		}
	}
	return nil
}

// defaultVPC returns the id of the region's default VPC.
func defaultVPC(ctx context.Context, client EC2API) (string, error) {
	out, err := client.DescribeVpcs(ctx, &ec2.DescribeVpcsInput{
		Filters: []types.Filter{
			{Name: aws.String("is-default"), Values: []string{"true"}},
		},
	})
	if err != nil {
		return "", fmt.Errorf("looking up default VPC: %w", err)
	}
	if len(out.Vpcs) == 0 {
		return "", ErrNoDefaultVPC
	}
	return aws.ToString(out.Vpcs[0].VpcId), nil
}

func (sg *securityGroup) deleteID(ctx context.Context, id string) error {
	_, err := sg.client.DeleteSecurityGroup(ctx, &ec2.DeleteSecurityGroupInput{
		GroupId: aws.String(id),
	})
	if err != nil {
		return fmt.Errorf("deleting security group %s: %w", id, err)
	}
	return nil
}

func sshPermission(port int32, cidr string) types.IpPermission {
	perm := types.IpPermission{
		IpProtocol: aws.String("tcp"),
		FromPort:   aws.Int32(port),
		ToPort:     aws.Int32(port),
	}
	if strings.Contains(cidr, ":") {
		perm.Ipv6Ranges = []types.Ipv6Range{{CidrIpv6: aws.String(cidr), Description: aws.String("ssh")}}
	} else {
		perm.IpRanges = []types.IpRange{{CidrIp: aws.String(cidr), Description: aws.String("ssh")}}
	}
	return perm
}

func (sg *securityGroup) resolveCIDR(ctx context.Context) (string, error) {
	if sg.ingressCIDR != IngressAuto {
		return sg.ingressCIDR, nil
	}
	lookup := sg.lookupAddr
	if lookup == nil {
		lookup = publicAddr
	}
	addr, err := lookup(ctx)
	if err != nil {
		return "", err
	}
	return singleAddrCIDR(addr)
}
