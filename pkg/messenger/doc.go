// Package messenger is the client-side synchronization core of MioChat.
//
// A Session owns the contact Directory, the Conversations history loader,
// the live Engine and the Composer for one logged-in user. The collaborators
// it depends on (IdentityProvider, Store, EventChannel) are interfaces; the
// client package implements them against the MioChat server.
//
// Example:
//
//	s, err := messenger.NewSession(ctx, api, api, ws)
//	if err != nil {
//	    return err
//	}
//	defer s.Close()
//	if err := s.Select(ctx, peerID); err != nil {
//	    return err
//	}
//	res := s.Send(ctx, "hi")
package messenger
