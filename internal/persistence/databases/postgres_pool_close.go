package databases

// Close allows pg-backed structs to be closed via Manager.Close's
// reflection helper.
func (p *pgVector) Close() { p.pool.Close() }
