// runner drives one ephemeral remote execution session on AWS EC2.
//
// # Overview
//
// A session provisions a single instance, runs one containerized command on
// it over SSH while streaming its output, then destroys everything it
// created and reports how long each phase took and roughly what it cost.
//
// Lifecycle: Provision -> Connect -> Upload (optional) -> Execute -> Teardown -> Report
//
// # Phase: Provision
//
// Resources are created in order, each pushing its destructor onto a stack:
//  1. Key pair - named after the run, key material returned by EC2
//  2. Security group - named after the run, SSH ingress only
//  3. Instance - one instance of the requested type, from the newest image of
//     the family matching its hardware class
//
// Key pair and security group names that already exist are treated as
// leftovers from an earlier run: the stale resource is deleted and creation
// is retried once.
//
// The instance is then waited on until it is running and has a public
// address.
//
// # Phase: Connect
//
// SSH connections are retried at a fixed interval while sshd comes up. Once
// connected, setup commands run in a single shell session and the container
// image is pulled.
//
// # Phase: Execute
//
// The local source directory (if any) is copied over SFTP, then the command
// runs inside the container with a pseudo-terminal. Output is streamed to the
// configured writer as it arrives.
//
// # Phase: Teardown
//
// The stack is unwound in reverse creation order: instance (waiting until it
// is terminated), security group, key pair. Every step runs even if an
// earlier one failed; failures are joined.
//
// A failure during provisioning or connecting unwinds whatever was created
// so far. A failure during execution tears everything down and returns the
// execution error unchanged.
//
// # Phase: Report
//
// The on-demand hourly rate is looked up and applied to the time the instance
// was in use (provisioning plus execution).
package runner
