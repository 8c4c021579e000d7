// Package storage provides interfaces and entity types for the authorization
// server's persistence collaborators.
//
// The storage package defines the store interfaces used throughout the
// library:
//   - ClientStore: registered OAuth clients
//   - SessionStore / LoginStore: browser sessions and their logins
//   - GrantStore / ConsentStore: in-flight authorization requests and consents
//   - LogoutTicketStore: in-flight end-session requests
//   - AccessTokenStore / RefreshTokenStore: opaque token handles
//
// Entities are plain value records keyed by identifier; relations between
// them are expressed as id references resolved through the store interfaces,
// never as in-memory object cycles.
//
// Implementations are provided in subpackages:
//   - storage/memory: in-memory reference implementation for development and testing
package storage
