package repository

import "errors"

// ErrNotFound is returned when a chat, message, or blob lookup finds
// nothing with the given id.
var ErrNotFound = errors.New("repository: not found")

// ErrInvalidRole is returned by MessageRepository.Create when asked to
// persist a role outside {user, assistant, system}, mirroring the role
// lookup in _examples/original_source/src/repository/message.py.
var ErrInvalidRole = errors.New("repository: invalid role")
