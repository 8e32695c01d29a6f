// ssh implements a facade over the 'x/crypto/ssh' and 'pkg/sftp' packages for
// driving short-lived remote hosts:
//   - private key parsing (and ED25519 generation for local use)
//   - SSH client construction, with a fixed-delay connection retry
//   - buffered, shell-sequenced and streaming command execution
//   - recursive directory upload over SFTP
//
// NOTE: ALL errors returned by this package will be wrapped with well-known (
// 'errors.Is(...') errors.
package ssh
