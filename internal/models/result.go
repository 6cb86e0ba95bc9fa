package models

// ExtractorOutput is what a single extractor hands to the engine.
type ExtractorOutput struct {
	Extractor    string           `json:"extractor"`
	Rooms        []AreaRecord     `json:"rooms,omitempty"`
	Sectors      []Sector         `json:"sectors,omitempty"`
	Doors        []DoorRecord     `json:"doors,omitempty"`
	Objects      []DetectedObject `json:"objects,omitempty"`
	Measurements []Measurement    `json:"measurements,omitempty"`
	Walls        []WallSegment    `json:"walls,omitempty"`
	Warnings     []Warning        `json:"warnings,omitempty"`
}

// Merge appends o into out.
func (out *ExtractorOutput) Merge(o *ExtractorOutput) {
	if o == nil {
		return
	}
	out.Rooms = append(out.Rooms, o.Rooms...)
	out.Sectors = append(out.Sectors, o.Sectors...)
	out.Doors = append(out.Doors, o.Doors...)
	out.Objects = append(out.Objects, o.Objects...)
	out.Measurements = append(out.Measurements, o.Measurements...)
	out.Walls = append(out.Walls, o.Walls...)
	out.Warnings = append(out.Warnings, o.Warnings...)
}

// Empty reports whether the output carries no records.
func (out *ExtractorOutput) Empty() bool {
	return len(out.Rooms) == 0 && len(out.Sectors) == 0 && len(out.Doors) == 0 && len(out.Measurements) == 0
}

// WallSegment is a merged wall candidate in pixel space.
type WallSegment struct {
	Page     int     `json:"page"`
	A        Point   `json:"a"`
	B        Point   `json:"b"`
	LengthPx float64 `json:"length_px"`
}

// DoorSummary aggregates the door list.
type DoorSummary struct {
	TotalDoors    int            `json:"total_doors" firestore:"totalDoors"`
	ByCategory    map[string]int `json:"by_category" firestore:"byCategory"`
	ByType        map[string]int `json:"by_type" firestore:"byType"`
	ByFireRating  map[string]int `json:"by_fire_rating" firestore:"byFireRating"`
	UniqueWidths  []float64      `json:"unique_widths" firestore:"uniqueWidths"`
	UniqueHeights []float64      `json:"unique_heights" firestore:"uniqueHeights"`
}

// Totals is the aggregate block of a result.
type Totals struct {
	TotalRooms           int                `json:"total_rooms" firestore:"totalRooms"`
	TotalAreaM2          float64            `json:"total_area_m2" firestore:"totalAreaM2"`
	TotalEffectiveAreaM2 float64            `json:"total_effective_area_m2" firestore:"totalEffectiveAreaM2"`
	TotalPerimeterM      float64            `json:"total_perimeter_m" firestore:"totalPerimeterM"`
	AreaByType           map[string]float64 `json:"area_by_type" firestore:"areaByType"`
	TotalDrywallM2       float64            `json:"total_drywall_m2" firestore:"totalDrywallM2"`
	Doors                DoorSummary        `json:"doors" firestore:"doors"`
	// UnreconciledRooms lists rooms whose conflicting area annotations
	// were excluded from the area totals.
	UnreconciledRooms []string `json:"unreconciled_rooms,omitempty" firestore:"unreconciledRooms,omitempty"`
}

// ExtractionResult is the structured result returned upward.
type ExtractionResult struct {
	RunID            string              `json:"run_id"`
	Status           ResultStatus        `json:"status"`
	Partial          bool                `json:"partial"`
	Classification   InputClassification `json:"classification"`
	Scales           []ScaleInfo         `json:"scales,omitempty"`
	Rooms            []AreaRecord        `json:"rooms"`
	Doors            []DoorRecord        `json:"doors"`
	Drywall          []DrywallRecord     `json:"drywall,omitempty"`
	Sectors          []Sector            `json:"sectors,omitempty"`
	Objects          []DetectedObject    `json:"objects,omitempty"`
	Measurements     []Measurement       `json:"measurements"`
	Totals           Totals              `json:"totals"`
	Warnings         []Warning           `json:"warnings"`
	ProcessingTimeMs int64               `json:"processing_time_ms"`
}
