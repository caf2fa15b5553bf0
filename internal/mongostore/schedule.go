package mongostore

import (
	"context"
	"fmt"
	"sort"
	"time"

	"appointly/internal/model"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo/options"
)

type dayDoc struct {
	Weekday int    `bson:"weekday"`
	Off     bool   `bson:"off"`
	Start   string `bson:"start,omitempty"`
	End     string `bson:"end,omitempty"`
}

type templateDoc struct {
	StaffID   string    `bson:"_id"`
	Days      []dayDoc  `bson:"days"`
	UpdatedAt time.Time `bson:"updated_at"`
}

func (s *Store) GetScheduleTemplate(ctx context.Context, staffID string) (*model.ScheduleTemplate, error) {
	var doc templateDoc
	if err := s.schedules.FindOne(ctx, bson.M{"_id": staffID}).Decode(&doc); err != nil {
		return nil, mapErr("get schedule", err)
	}
	return fromTemplateDoc(doc)
}

func (s *Store) SaveScheduleTemplate(ctx context.Context, tpl *model.ScheduleTemplate) error {
	if err := tpl.Validate(); err != nil {
		return fmt.Errorf("invalid template for %s: %w", tpl.StaffID, err)
	}
	doc := toTemplateDoc(tpl)
	doc.UpdatedAt = time.Now().UTC()
	_, err := s.schedules.ReplaceOne(ctx, bson.M{"_id": tpl.StaffID}, doc, options.Replace().SetUpsert(true))
	if err != nil {
		return mapErr("save schedule", err)
	}
	return nil
}

// toTemplateDoc stores days sorted by weekday. Weekdays use 1=Mon..7=Sun like the SQL stores.
func toTemplateDoc(tpl *model.ScheduleTemplate) templateDoc {
	doc := templateDoc{StaffID: tpl.StaffID, Days: make([]dayDoc, 0, len(tpl.Days))}
	for wd, ds := range tpl.Days {
		d := dayDoc{Weekday: isoWeekday(wd), Off: ds.Off}
		if !ds.Off || ds.End > ds.Start {
			d.Start, d.End = ds.Start.String(), ds.End.String()
		}
		doc.Days = append(doc.Days, d)
	}
	sort.Slice(doc.Days, func(i, j int) bool { return doc.Days[i].Weekday < doc.Days[j].Weekday })
	return doc
}

func fromTemplateDoc(doc templateDoc) (*model.ScheduleTemplate, error) {
	tpl := model.NewScheduleTemplate(doc.StaffID)
	for _, d := range doc.Days {
		if d.Weekday < 1 || d.Weekday > 7 {
			return nil, fmt.Errorf("staff %s: invalid weekday %d", doc.StaffID, d.Weekday)
		}
		ds := model.DaySchedule{Off: d.Off}
		var err error
		if d.Start != "" {
			if ds.Start, err = model.ParseTimeOfDay(d.Start); err != nil {
				return nil, fmt.Errorf("staff %s day %d: %w", doc.StaffID, d.Weekday, err)
			}
		}
		if d.End != "" {
			if ds.End, err = model.ParseTimeOfDay(d.End); err != nil {
				return nil, fmt.Errorf("staff %s day %d: %w", doc.StaffID, d.Weekday, err)
			}
		}
		tpl.Set(time.Weekday(d.Weekday%7), ds)
	}
	return tpl, nil
}

func isoWeekday(wd time.Weekday) int {
	if wd == time.Sunday {
		return 7
	}
	return int(wd)
}
