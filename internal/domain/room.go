package domain

// Slug identifies one independent multiplayer session. Rooms are created
// implicitly on first join and never destroyed; an empty room keeps its
// video pointer.
type Slug string
